// seed registers users in the Postgres store. With no --name it creates a
// demo customer and agent.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"blakv.app/support/common/id"
	"blakv.app/support/common/logger"
	"blakv.app/support/core/config"
	"blakv.app/support/core/db"
	"blakv.app/support/internal/http/middleware"
	"blakv.app/support/internal/model"
	"blakv.app/support/internal/service"
	"blakv.app/support/internal/store"
)

type account struct {
	name  string
	email string
	role  model.Role
}

var demo = []account{
	{name: "Jane Customer", email: "jane@example.com", role: model.RoleCustomer},
	{name: "Sam Support", email: "sam@blakv.app", role: model.RoleAgent},
}

func main() {
	ctx := context.Background()

	var (
		name  string
		email string
		role  string
	)
	flagSet := pflag.NewFlagSet("seed", pflag.ExitOnError)
	flagSet.StringVar(&name, "name", "", "display name of a single user to register")
	flagSet.StringVar(&email, "email", "", "e-mail address; also the upsert key")
	flagSet.StringVar(&role, "role", string(model.RoleCustomer), "customer or agent")
	_ = flagSet.Parse(os.Args[1:])

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg)

	// Keep clear of the server's node id.
	if err := id.Init((cfg.NodeID + 1) % 1024); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	accounts := demo
	if name != "" {
		accounts = []account{{name: name, email: email, role: model.Role(role)}}
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to migrate", "error", err)
		os.Exit(1)
	}

	users := service.NewUserService(store.NewStores(database.Queries()).Users())
	for _, a := range accounts {
		user, err := users.Register(ctx, a.name, a.email, a.role)
		if err != nil {
			slog.ErrorContext(ctx, "failed to register user", "error", err, "email", a.email)
			os.Exit(1)
		}

		line := fmt.Sprintf("%-8s %s  %s <%s>", user.Role, id.Format(user.ID), user.Name, user.Email)
		if cfg.Identity.SigningKey != "" {
			line += "  sig=" + middleware.Sign(cfg.Identity.SigningKey, id.Format(user.ID))
		}
		fmt.Println(line)
	}
}
