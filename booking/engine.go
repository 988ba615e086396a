package booking

import (
	"time"

	"github.com/sirupsen/logrus"
)

// EngineConfig collects the collaborators shared by every service.
type EngineConfig struct {
	Store     TxStore
	Sequences SequenceStore
	Gateway   Gateway
	Notifier  Notifier
	// AccessBaseURL prefixes the guest access link in notifications.
	AccessBaseURL  string
	Clock          Clock
	Log            logrus.FieldLogger
	GatewayTimeout time.Duration
	SetupTimeout   time.Duration
}

// Engine wires the services over one store.
type Engine struct {
	Sequencer    *Sequencer
	Inventory    *Inventory
	Availability *AvailabilityEngine
	Payments     *PaymentWorkflow
	Reservations *ReservationService
	Batch        *BatchCanceller
	People       *People
}

func NewEngine(cfg EngineConfig) *Engine {
	clock := clockOr(cfg.Clock)
	log := logOr(cfg.Log)
	gateway := cfg.Gateway
	if gateway == nil {
		gateway = DisabledGateway{}
	}
	announcer := &Announcer{Notifier: cfg.Notifier, BaseURL: cfg.AccessBaseURL, Clock: clock, Log: log}

	seq := NewSequencer(cfg.Sequences)
	payments := &PaymentWorkflow{
		Store:        cfg.Store,
		Gateway:      gateway,
		Announcer:    announcer,
		Clock:        clock,
		Log:          log,
		Timeout:      cfg.GatewayTimeout,
		SetupTimeout: cfg.SetupTimeout,
	}
	reservations := &ReservationService{
		Store:     cfg.Store,
		Sequencer: seq,
		Payments:  payments,
		Announcer: announcer,
		Clock:     clock,
		Log:       log,
	}
	return &Engine{
		Sequencer:    seq,
		Inventory:    NewInventory(cfg.Store, clock, log),
		Availability: NewAvailabilityEngine(cfg.Store, clock),
		Payments:     payments,
		Reservations: reservations,
		Batch:        NewBatchCanceller(reservations, log),
		People:       &People{Store: cfg.Store, Log: log},
	}
}
