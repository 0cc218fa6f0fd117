package lsp_server

import (
	"log"

	"github.com/checkerls/checkerls/server/logger"
	"github.com/checkerls/checkerls/server/router"
	"github.com/checkerls/checkerls/server/wire"
	"github.com/checkerls/checkerls/server/worker"
	"github.com/google/uuid"
)

// recorder writes worker and check events to the history. A recorder
// without history does nothing.
type recorder struct {
	history *logger.History
	log     *log.Logger
	worker  Worker
}

func newRecorder(history *logger.History, logger *log.Logger) *recorder {
	return &recorder{history: history, log: logger}
}

func (r *recorder) workerID() string {
	if w, ok := r.worker.(interface{ HandleID() uuid.UUID }); ok {
		if id := w.HandleID(); id != uuid.Nil {
			return id.String()
		}
	}
	return ""
}

func (r *recorder) hooks() worker.Hooks {
	if r.history == nil {
		return worker.Hooks{}
	}

	return worker.Hooks{
		Spawned: func(h *worker.Handle) {
			if err := r.history.StartWorker(h.ID, h.Command.String(), h.StartedAt); err != nil {
				r.log.Printf("unable to record worker %s: %s\n", h.ID, err)
			}
		},
		Degraded: func(h *worker.Handle, err error) {
			r.stopped(h, err.Error())
		},
		Retired: func(h *worker.Handle) {
			r.stopped(h, "retired")
		},
	}
}

func (r *recorder) stopped(h *worker.Handle, reason string) {
	if err := r.history.StopWorker(h.ID, reason); err != nil {
		r.log.Printf("unable to record worker %s: %s\n", h.ID, err)
	}
}

func (r *recorder) submitted(files []string) {
	if r.history == nil {
		return
	}

	workerID := r.workerID()
	for _, file := range files {
		err := r.history.LogCheck(logger.CheckEntry{
			WorkerID: workerID,
			File:     file,
			Kind:     logger.CheckSubmitted,
		})
		if err != nil {
			r.log.Printf("unable to record check of %s: %s\n", file, err)
		}
	}
}

func (r *recorder) routed(ro router.Routed) {
	if r.history == nil {
		return
	}

	file := string(ro.URI)
	if wire.IsFileURI(ro.URI) {
		file = ro.URI.Filename()
	}

	err := r.history.LogCheck(logger.CheckEntry{
		WorkerID:    r.workerID(),
		File:        file,
		Kind:        logger.CheckPublished,
		Diagnostics: ro.Diagnostics,
		Notes:       ro.Notes,
	})
	if err != nil {
		r.log.Printf("unable to record check of %s: %s\n", file, err)
	}
}
