package main

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

const maxHistory = 1000

// ActionTracker keeps the most recent page actions (fill, pull) so a client
// can see what ran against the annotation page and how long it took.
type ActionTracker struct {
	mu      sync.Mutex
	records []ActionRecord
}

type ActionRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Method     string    `json:"method"`
	Endpoint   string    `json:"endpoint"`
	DurationMs int64     `json:"durationMs"`
	Status     int       `json:"status"`
}

type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Count    int    `json:"count"`
	Failures int    `json:"failures"`
	AvgMs    int64  `json:"avgMs"`
}

type HistoryReport struct {
	TotalActions int             `json:"totalActions"`
	Since        time.Time       `json:"since"`
	Endpoints    []EndpointCount `json:"endpoints"`
}

func NewActionTracker() *ActionTracker {
	return &ActionTracker{}
}

func (at *ActionTracker) Record(rec ActionRecord) {
	at.mu.Lock()
	defer at.mu.Unlock()

	at.records = append(at.records, rec)
	if len(at.records) > maxHistory {
		at.records = at.records[len(at.records)-maxHistory:]
	}
}

// Recent returns up to limit records, oldest first. limit <= 0 means all.
func (at *ActionTracker) Recent(limit int) []ActionRecord {
	at.mu.Lock()
	defer at.mu.Unlock()

	if limit <= 0 || limit > len(at.records) {
		limit = len(at.records)
	}
	out := make([]ActionRecord, limit)
	copy(out, at.records[len(at.records)-limit:])
	return out
}

func (at *ActionTracker) Report() HistoryReport {
	at.mu.Lock()
	defer at.mu.Unlock()

	if len(at.records) == 0 {
		return HistoryReport{Endpoints: []EndpointCount{}}
	}
	type agg struct {
		count, failures int
		totalMs         int64
	}
	byEndpoint := map[string]*agg{}
	for _, r := range at.records {
		a := byEndpoint[r.Endpoint]
		if a == nil {
			a = &agg{}
			byEndpoint[r.Endpoint] = a
		}
		a.count++
		a.totalMs += r.DurationMs
		if r.Status >= 400 {
			a.failures++
		}
	}

	report := HistoryReport{TotalActions: len(at.records), Since: at.records[0].Timestamp}
	for ep, a := range byEndpoint {
		report.Endpoints = append(report.Endpoints, EndpointCount{
			Endpoint: ep,
			Count:    a.count,
			Failures: a.failures,
			AvgMs:    a.totalMs / int64(a.count),
		})
	}
	sort.Slice(report.Endpoints, func(i, j int) bool {
		if report.Endpoints[i].Count != report.Endpoints[j].Count {
			return report.Endpoints[i].Count > report.Endpoints[j].Count
		}
		return report.Endpoints[i].Endpoint < report.Endpoints[j].Endpoint
	})
	return report
}

// Track wraps a handler so each call is recorded.
func (at *ActionTracker) Track(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next(rec, r)
		at.Record(ActionRecord{
			Timestamp:  start,
			Method:     r.Method,
			Endpoint:   r.URL.Path,
			DurationMs: time.Since(start).Milliseconds(),
			Status:     rec.code,
		})
	}
}

// ── GET /history, GET /history/report ──────────────────────

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	jsonResp(w, 200, map[string]any{"actions": s.history.Recent(limit)})
}

func (s *Server) handleHistoryReport(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, 200, s.history.Report())
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
