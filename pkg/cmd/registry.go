// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	logaction "github.com/evergreenhq/journeys/pkg/actions/log"
	"github.com/evergreenhq/journeys/pkg/actions/webhook"
	"github.com/evergreenhq/journeys/pkg/registry"
)

func registerNativeActions(reg *registry.Registry) {
	reg.RegisterAction(logaction.NewActionFactory())
	reg.RegisterAction(webhook.NewActionFactory())
}

func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	registerNativeActions(reg)

	return reg
}
