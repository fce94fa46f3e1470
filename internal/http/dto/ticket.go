package dto

import "blakv.app/support/internal/model"

// Length limits are enforced by the ticket service on the trimmed text.
type CreateTicketRequest struct {
	Subject string `json:"subject" binding:"required"`
	Message string `json:"message" binding:"required"`
}

type AppendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

type UpdateStatusRequest struct {
	Status model.TicketStatus `json:"status" binding:"required"`
}

type TicketListResponse struct {
	Count   int            `json:"count"`
	Tickets []model.Ticket `json:"tickets"`
}

func ToTicketListResponse(tickets []model.Ticket) *TicketListResponse {
	if tickets == nil {
		tickets = []model.Ticket{}
	}
	return &TicketListResponse{Count: len(tickets), Tickets: tickets}
}
