/*
main.go

Copyright © 2025 Code Monkey Cybersecurity
Contact: git@cybermonkey.net.au

This file is part of Hearth.

This software is dual-licensed under the Do No Harm License
and the GNU Affero General Public License v3 (AGPL-3.0-or-later).
You may use, modify, and distribute it under the terms of either license.

See LICENSE.agpl and LICENSE.dnh for full details.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/cmd"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger.InitializeWithFallback()
	defer func() {
		if err := logger.Sync(); err != nil {
			// syncing a terminal returns EINVAL
			logger.L().Debug("Failed to flush logs", zap.Error(err))
		}
	}()

	if err := telemetry.Init(shared.HearthID); err != nil {
		logger.L().Warn("Telemetry disabled", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(ctx)
	}()

	err := cmd.Execute()
	if err == nil {
		return hearth_err.ExitOK
	}

	if pe, ok := hearth_err.AsProvisionError(err); ok {
		fmt.Fprintf(os.Stderr, "❌ %s\n", pe.Describe())
	} else {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		for _, hint := range hearth_err.Hints(err) {
			fmt.Fprintf(os.Stderr, "   hint: %s\n", hint)
		}
	}
	return hearth_err.GetExitCode(err)
}
