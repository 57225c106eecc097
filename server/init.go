package server

import (
	"context"

	"go.uber.org/zap"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/dispatch"
	"github.com/talocan/hharvest/errors"
	"github.com/talocan/hharvest/monitor"
	"github.com/talocan/hharvest/store"
)

// New creates a dashboard server. The dispatcher may be nil when the
// panel runs beside an externally managed daemon; task creation then
// falls back to writing the queue directly.
func New(st *store.Store, disp *dispatch.Dispatcher, mon *monitor.Monitor, cfg *config.Config, log *zap.SugaredLogger) (*Server, error) {
	if st == nil {
		return nil, errors.New("store cannot be nil")
	}
	if mon == nil {
		return nil, errors.New("monitor cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		store:      st,
		dispatcher: disp,
		monitor:    mon,
		cfg:        cfg,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan wsEnvelope, MaxClientMessageQueueSize),
		logger:     log,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}
