package cli

import (
	"fmt"
	"log/slog"
	"os"

	periodclose "github.com/coopledger/patronage/internal/close"
	"github.com/coopledger/patronage/internal/compliance"
	"github.com/coopledger/patronage/internal/contribution"
	"github.com/coopledger/patronage/internal/event"
	"github.com/coopledger/patronage/internal/ledger"
	"github.com/coopledger/patronage/internal/policy"
	"github.com/coopledger/patronage/internal/store"
)

// Env wires the store and services for one command invocation.
type Env struct {
	Store    *store.Store
	Policy   policy.Policy
	Logger   *slog.Logger
	Bus      *event.Bus
	Ledger   *ledger.Service
	Checker  *compliance.Checker
	Contribs *contribution.Service
	Orch     *periodclose.Orchestrator
}

// openEnv opens the data file and builds the service graph. Commands
// other than `init` require the data file to already exist.
func openEnv(opts *RootOptions, mustExist bool) (*Env, error) {
	if mustExist {
		if _, err := os.Stat(opts.DB); err != nil {
			return nil, WrapExitError(ExitCommandError,
				fmt.Sprintf("data file %s not found (run `patronage init` first)", opts.DB), err)
		}
	}

	pol := policy.Default()
	if opts.Policy != "" {
		var err error
		pol, err = policy.Load(opts.Policy)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "load policy", err)
		}
	}

	st, err := store.Open(opts.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}

	logger := newLogger(opts)
	bus := event.NewBus(st, logger)
	contribution.RegisterAccrual(bus, st, pol, logger)
	led := ledger.New(st, logger)
	chk := compliance.NewChecker(st, pol.Currency, logger)

	return &Env{
		Store:    st,
		Policy:   pol,
		Logger:   logger,
		Bus:      bus,
		Ledger:   led,
		Checker:  chk,
		Contribs: contribution.New(st, bus, pol, logger),
		Orch:     periodclose.New(st, led, chk, bus, pol, logger),
	}, nil
}

// Close releases the store.
func (e *Env) Close() {
	if err := e.Store.Close(); err != nil {
		e.Logger.Error("closing database", "error", err)
	}
}
