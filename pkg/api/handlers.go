/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const defaultLimit = 25

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleTopUsers(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.TopUsers(r.Context(), days(r), limit(r))
	s.respond(w, result, err)
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.HourlyHeatmap(r.Context(), days(r))
	s.respond(w, result, err)
}

func (s *Server) handleDailyActivity(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.DailyActivity(r.Context(), days(r))
	s.respond(w, result, err)
}

func (s *Server) handleIdleRanking(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.IdleRanking(r.Context(), days(r), limit(r))
	s.respond(w, result, err)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.ChannelPopularity(r.Context(), days(r))
	s.respond(w, result, err)
}

func (s *Server) handleGrowth(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Growth(r.Context(), days(r))
	s.respond(w, result, err)
}

func (s *Server) handleHoppers(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.ChannelHoppers(r.Context(), days(r), limit(r))
	s.respond(w, result, err)
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.ConnectionPatterns(r.Context(), days(r), limit(r))
	s.respond(w, result, err)
}

func (s *Server) handleEngagement(w http.ResponseWriter, r *http.Request) {
	users, summary, err := s.engine.Engagement(r.Context(), days(r), limit(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"users":   users,
		"summary": summary,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Summary(r.Context(), days(r))
	s.respond(w, result, err)
}

func (s *Server) handlePeaks(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.PeakTimes(r.Context(), days(r), limit(r))
	s.respond(w, result, err)
}

func (s *Server) handleOnlineNow(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.OnlineNow(r.Context())
	s.respond(w, result, err)
}

func (s *Server) handleAwayStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.AwayStats(r.Context(), days(r), limit(r))
	s.respond(w, result, err)
}

func (s *Server) handleMuteStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.MuteStats(r.Context(), days(r))
	s.respond(w, result, err)
}

func (s *Server) handleGroupStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.ServerGroupStats(r.Context(), days(r))
	s.respond(w, result, err)
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		http.Error(w, "client_id is required", http.StatusBadRequest)
		return
	}

	result, err := s.engine.UserStats(r.Context(), clientID, days(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if result == nil {
		http.Error(w, "client not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, result)
}

func (s *Server) respond(w http.ResponseWriter, result interface{}, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, result)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Error().Err(err).Msg("Query failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// days parses the optional window size; 0 means unbounded.
func days(r *http.Request) int {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return 0
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}

	return n
}

func limit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return defaultLimit
	}

	return n
}
