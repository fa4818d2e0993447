// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api implements the public-facing HTTP server for the tally
// service. Producers post raw events or chat messages; the server turns them
// into aggregator events and routes prefixed commands.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"tally/internal/chat"
	"tally/internal/logger"
	"tally/internal/tally/core"
	"tally/internal/tally/telemetry"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ErrBadCleanDelay is returned by the clean command for a malformed delay.
var ErrBadCleanDelay = errors.New("clean delay must be a non-negative number of seconds")

// Recorder is the part of the aggregator the server needs.
type Recorder interface {
	Record(events ...core.Event) int
	Pending() int
}

// Server handles the HTTP requests for the tally service.
type Server struct {
	agg     Recorder
	router  *chat.Router
	cleaner *chat.Cleaner
	log     *logger.Logger

	// bg outlives requests so that scheduled cleanups survive the response.
	bg     context.Context
	cancel context.CancelFunc
}

// NewServer creates the server and registers the built-in "clean" command on
// router.
func NewServer(agg Recorder, router *chat.Router, cleaner *chat.Cleaner, log *logger.Logger) *Server {
	bg, cancel := context.WithCancel(context.Background())
	s := &Server{agg: agg, router: router, cleaner: cleaner, log: log, bg: bg, cancel: cancel}
	router.Register("clean", s.cleanCommand)
	return s
}

// EventsRequest is the body of POST /v1/events.
type EventsRequest struct {
	Events []core.Event `json:"events"`
}

// AcceptedResponse reports how many events were recorded.
type AcceptedResponse struct {
	Accepted int    `json:"accepted"`
	Command  string `json:"command,omitempty"`
}

// PendingResponse is the body of GET /v1/pending.
type PendingResponse struct {
	PendingKeys int `json:"pending_keys"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// commandErrorResponse is returned when a command handler fails. Emoji
// reactions in the message were already recorded, so Accepted tells the
// client not to resend them.
type commandErrorResponse struct {
	Error    string `json:"error"`
	Accepted int    `json:"accepted"`
}

// RegisterRoutes sets up the HTTP routes on r.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/events", s.handleEvents).Methods(http.MethodPost)
	r.HandleFunc("/v1/messages", s.handleMessage).Methods(http.MethodPost)
	r.HandleFunc("/v1/pending", s.handlePending).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	}).Methods(http.MethodGet)
	if telemetry.Enabled() {
		r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)
	}
}

// Handler returns a router with every route registered.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.RegisterRoutes(r)
	return r
}

// NewHTTPServer wraps the handler with the listener timeouts used in
// production.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// Shutdown cancels pending cleanups and waits for them to return.
func (s *Server) Shutdown() {
	s.cancel()
	s.cleaner.Wait()
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var req EventsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	n := s.agg.Record(req.Events...)
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: n})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg chat.Message
	if err := decodeJSON(w, r, &msg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if msg.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message id is required"})
		return
	}

	resp := AcceptedResponse{}
	if events := chat.EmojiEvents(msg); len(events) > 0 {
		resp.Accepted = s.agg.Record(events...)
	}

	inv, err := s.router.Dispatch(r.Context(), msg)
	switch {
	case err == nil:
		resp.Command = inv.Name
	case errors.Is(err, chat.ErrNotPrefixed):
		// plain message
	case errors.Is(err, chat.ErrUnknownCommand), errors.Is(err, chat.ErrUnknownCommandName):
		s.log.Debug("ignored command", "message_id", msg.ID, "reason", err)
	default:
		s.log.Warn("command failed", "message_id", msg.ID, "command", inv.Name, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, commandErrorResponse{Error: err.Error(), Accepted: resp.Accepted})
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handlePending(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PendingResponse{PendingKeys: s.agg.Pending()})
}

// cleanCommand handles "clean [seconds]": the invoking message is deleted
// after the given delay, or the cleaner default when none is given.
func (s *Server) cleanCommand(_ context.Context, msg chat.Message, inv chat.Invocation) error {
	item := chat.Deletable{Message: msg}
	if p := strings.Fields(inv.Params); len(p) > 0 {
		secs, err := strconv.ParseFloat(p[0], 64)
		if err != nil || secs < 0 {
			return fmt.Errorf("%w: %q", ErrBadCleanDelay, p[0])
		}
		item = chat.After(msg, time.Duration(secs*float64(time.Second)))
	}
	s.cleaner.CleanAsync(s.bg, item)
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
