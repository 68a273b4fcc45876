// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package fileserver is the HTTP file-transfer side-channel (§4.7):
// clients upload a blob out of band, get back a URL, and paste that URL
// into a chat message; no authentication is performed (explicit non-goal).
package fileserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/olaf-neighbourhood/olaf/internal/logger"
)

// Server serves POST /api/upload and GET /downloads/<name> over plain HTTP.
type Server struct {
	uploadDir  string
	publicBase string // e.g. http://host:port, used to build the returned file_url
	log        logger.Logger
}

// New creates a file-transfer server rooted at uploadDir, advertising
// download links under publicBase.
func New(uploadDir, publicBase string, log logger.Logger) *Server {
	return &Server{uploadDir: uploadDir, publicBase: publicBase, log: log}
}

// Handler returns the http.Handler exposing /api/upload and /downloads/.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload", s.handleUpload)
	mux.HandleFunc("/downloads/", s.handleDownload)
	return mux
}

type uploadResponse struct {
	FileURL string `json:"file_url"`
}

// handleUpload stores the raw request body under a collision-avoiding name
// and replies with the URL a recipient can GET it back from (§4.7).
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		s.log.Warn("upload: failed to create upload dir", logger.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	name := uuid.NewString()
	path := filepath.Join(s.uploadDir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		s.log.Warn("upload: failed to create file", logger.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	if _, err := io.Copy(f, r.Body); err != nil {
		s.log.Warn("upload: failed to write body", logger.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := uploadResponse{FileURL: fmt.Sprintf("%s/downloads/%s", s.publicBase, name)}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleDownload streams a previously uploaded blob back out, or 404s.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := filepath.Base(r.URL.Path)
	path := filepath.Join(s.uploadDir, name)

	// filepath.Base strips any directory components, so path cannot escape
	// s.uploadDir via "..".
	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	http.ServeContent(w, r, name, fileModTime(f), f)
}

func fileModTime(f *os.File) time.Time {
	info, err := f.Stat()
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
