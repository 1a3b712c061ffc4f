// ABOUTME: In-memory fake of the upstream forms REST API for local development.
// ABOUTME: Usage: formsapi-sim [-addr localhost:3001] [-seed]

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/2389/formbridge/internal/forms"
)

func main() {
	addr := flag.String("addr", "localhost:3001", "listen address")
	seed := flag.Bool("seed", false, "preload a couple of demo forms")
	flag.Parse()

	sim := newSimulator()
	if *seed {
		sim.seedDemoForms()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /form", sim.handleList)
	mux.HandleFunc("POST /form", sim.handleCreate)
	mux.HandleFunc("GET /form/{id}", sim.handleGet)
	mux.HandleFunc("PUT /form/{id}", sim.handleUpdate)
	mux.HandleFunc("DELETE /form/{id}", sim.handleDelete)
	mux.HandleFunc("GET /{path}", sim.handleGetByPath)

	log.Printf("formsapi-sim listening on %s (%d forms)", *addr, sim.count())
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal(err)
	}
}

// simulator is a threadsafe in-memory form store.
type simulator struct {
	mu     sync.Mutex
	forms  map[string]*forms.Form
	nextID int
}

func newSimulator() *simulator {
	return &simulator{forms: make(map[string]*forms.Form), nextID: 1}
}

func (s *simulator) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.forms)
}

// seedDemoForms loads two sample forms so preview pages have content.
func (s *simulator) seedDemoForms() {
	s.store(&forms.Form{
		Title:   "[MCP] Contact Us",
		Name:    "contact-us",
		Path:    "mcp-contact-us",
		Type:    "form",
		Display: "form",
		Tags:    []string{"demo"},
		Components: json.RawMessage(`[
			{"type":"textfield","key":"name","label":"Your Name","input":true,"validate":{"required":true}},
			{"type":"email","key":"email","label":"Email Address","input":true,"validate":{"required":true}},
			{"type":"textarea","key":"message","label":"Message","input":true},
			{"type":"button","key":"submit","label":"Submit","action":"submit","input":true}
		]`),
	})
	s.store(&forms.Form{
		Title:   "Legacy Intake",
		Name:    "legacy-intake",
		Path:    "legacy-intake",
		Type:    "form",
		Display: "form",
		Components: json.RawMessage(`[
			{"type":"textfield","key":"subject","label":"Subject","input":true},
			{"type":"button","key":"submit","label":"Submit","action":"submit","input":true}
		]`),
	})
}

// store assigns an id and timestamps, then saves a copy.
func (s *simulator) store(f *forms.Form) *forms.Form {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	f.ID = fmt.Sprintf("%024x", s.nextID)
	s.nextID++
	f.Created = now
	f.Modified = now
	s.forms[f.ID] = f
	return f
}

func (s *simulator) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typeFilter := q.Get("type")
	var tagFilter []string
	if raw := q.Get("tags"); raw != "" {
		tagFilter = strings.Split(raw, ",")
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	skip, _ := strconv.Atoi(q.Get("skip"))

	s.mu.Lock()
	matched := make([]*forms.Form, 0, len(s.forms))
	for _, f := range s.forms {
		if typeFilter != "" && f.Type != typeFilter {
			continue
		}
		if len(tagFilter) > 0 && !hasAnyTag(f.Tags, tagFilter) {
			continue
		}
		matched = append(matched, f)
	}
	s.mu.Unlock()

	// Stable order: oldest first by id
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if skip > 0 {
		if skip > len(matched) {
			skip = len(matched)
		}
		matched = matched[skip:]
	}
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	log.Printf("list forms: %d matched", len(matched))
	writeJSON(w, http.StatusOK, matched)
}

func (s *simulator) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	f, ok := s.forms[id]
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "form not found")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *simulator) handleGetByPath(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")

	s.mu.Lock()
	var found *forms.Form
	for _, f := range s.forms {
		if f.Path == path {
			found = f
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		writeError(w, http.StatusNotFound, "form not found")
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *simulator) handleCreate(w http.ResponseWriter, r *http.Request) {
	var f forms.Form
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if f.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	created := s.store(&f)
	log.Printf("created form %s (%s)", created.ID, created.Title)
	writeJSON(w, http.StatusCreated, created)
}

func (s *simulator) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var incoming forms.Form
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	s.mu.Lock()
	existing, ok := s.forms[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "form not found")
		return
	}
	incoming.ID = id
	incoming.Created = existing.Created
	incoming.Modified = time.Now().UTC().Format(time.RFC3339)
	s.forms[id] = &incoming
	s.mu.Unlock()

	log.Printf("updated form %s (%s)", id, incoming.Title)
	writeJSON(w, http.StatusOK, &incoming)
}

func (s *simulator) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	_, ok := s.forms[id]
	delete(s.forms, id)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "form not found")
		return
	}
	log.Printf("deleted form %s", id)
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func hasAnyTag(formTags, want []string) bool {
	for _, w := range want {
		for _, t := range formTags {
			if t == w {
				return true
			}
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
