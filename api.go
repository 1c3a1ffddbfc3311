package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof" // register handlers
	"regexp"
	"strconv"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zephyrtronium/pollbot/poll"
	"github.com/zephyrtronium/pollbot/store"
)

func (robo *Robot) api(ctx context.Context, listen string, mux *http.ServeMux, metrics []prometheus.Collector) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(
		collectors.WithGoCollectorMemStatsMetricsDisabled(),
		collectors.WithGoCollectorRuntimeMetrics(
			collectors.GoRuntimeMetricsRule{
				Matcher: regexp.MustCompile(`^(/gc/gogc:percent|/gc/gomemlimit:bytes|/gc/heap/allocs:bytes|/gc/heap/goal:bytes|/memory/classes/total:bytes|/sched/goroutines:goroutines|/sched/latencies:seconds)$`),
			},
		),
	))
	reg.MustRegister(metrics...)
	opts := promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, opts))
	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
	robo.routes(mux)
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("couldn't start API server: %w", err)
	}
	srv := http.Server{
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}
	go func() {
		slog.InfoContext(ctx, "HTTP API server", slog.Any("addr", l.Addr()))
		err := srv.Serve(l)
		if err == http.ErrServerClosed {
			return
		}
		slog.ErrorContext(ctx, "HTTP API server closed", slog.Any("err", err))
	}()
	<-ctx.Done()
	// The context is now done, so it is obviously the wrong choice for
	// managing the shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// routes registers the poll API.
func (robo *Robot) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/poll/{id}", robo.apiPoll)
	mux.HandleFunc("GET /api/audit/{server}", robo.apiAudit)
}

func jsonerror(w http.ResponseWriter, status int, msg string) {
	v := struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}{
		Error:  msg,
		Status: status,
	}
	b, err := json.Marshal(&v)
	if err != nil {
		panic(err)
	}
	w.WriteHeader(status)
	w.Write(b)
}

type apiCount struct {
	Option string `json:"option"`
	Name   string `json:"name"`
	Emoji  string `json:"emoji"`
	Votes  int    `json:"votes"`
}

type apiTally struct {
	Question string     `json:"question"`
	Prompt   string     `json:"prompt"`
	Total    int        `json:"total"`
	Counts   []apiCount `json:"counts"`
}

func (robo *Robot) apiPoll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slog.With(slog.String("api", "poll"), slog.Any("trace", uuid.New()))
	log.InfoContext(ctx, "handle", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
	defer log.InfoContext(ctx, "done")
	w.Header().Set("Content-Type", "application/json")
	id := r.PathValue("id")
	p, err := robo.env.Polls.Get(ctx, id)
	switch {
	case err == nil: // do nothing
	case errors.Is(err, store.ErrNotFound):
		log.WarnContext(ctx, "no such poll", slog.String("poll", id))
		jsonerror(w, http.StatusNotFound, "no such poll")
		return
	default:
		log.ErrorContext(ctx, "couldn't load poll", slog.String("poll", id), slog.Any("err", err))
		jsonerror(w, http.StatusInternalServerError, err.Error())
		return
	}
	docs, err := robo.env.Responses.Scan(ctx, id+"/")
	if err != nil {
		log.ErrorContext(ctx, "couldn't load responses", slog.String("poll", id), slog.Any("err", err))
		jsonerror(w, http.StatusInternalServerError, err.Error())
		return
	}
	rs := make([]*poll.Response, 0, len(docs))
	for _, d := range docs {
		if len(d.Value.Answers) > 0 {
			rs = append(rs, d.Value)
		}
	}
	u := struct {
		Poll    *poll.Poll `json:"poll"`
		Voters  int        `json:"voters"`
		Tallies []apiTally `json:"tallies"`
		Status  int        `json:"status"`
	}{
		Poll:   p,
		Voters: len(rs),
		Status: http.StatusOK,
	}
	for _, t := range poll.Tally(p, rs) {
		a := apiTally{Question: t.Question, Prompt: t.Prompt, Total: t.Total, Counts: make([]apiCount, len(t.Counts))}
		for i, c := range t.Counts {
			a.Counts[i] = apiCount{Option: c.Option.ID, Name: c.Option.Name, Emoji: c.Option.Emoji, Votes: c.Votes}
		}
		u.Tallies = append(u.Tallies, a)
	}
	b, err := json.Marshal(&u)
	if err != nil {
		panic(err)
	}
	if _, err := w.Write(b); err != nil {
		log.ErrorContext(ctx, "write response failed", slog.Any("err", err))
	}
}

type apiEntry struct {
	Time     string `json:"time"`
	Command  string `json:"command"`
	User     string `json:"user"`
	Channel  string `json:"channel"`
	Outcome  string `json:"outcome"`
	Detail   string `json:"detail,omitzero"`
	Indirect bool   `json:"indirect,omitzero"`
}

func (robo *Robot) apiAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slog.With(slog.String("api", "audit"), slog.Any("trace", uuid.New()))
	log.InfoContext(ctx, "handle", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
	defer log.InfoContext(ctx, "done")
	w.Header().Set("Content-Type", "application/json")
	server := r.PathValue("server")
	n := 64
	if s := r.FormValue("n"); s != "" {
		var err error
		n, err = strconv.Atoi(s)
		if err != nil || n <= 0 {
			log.WarnContext(ctx, "bad request", slog.String("n", s), slog.Any("err", err))
			jsonerror(w, http.StatusBadRequest, "invalid page size")
			return
		}
	}
	es, err := robo.audit.Recent(ctx, server, n)
	if err != nil {
		log.ErrorContext(ctx, "couldn't read audit log", slog.Any("err", err))
		jsonerror(w, http.StatusInternalServerError, err.Error())
		return
	}
	u := struct {
		Data   []apiEntry `json:"data"`
		Status int        `json:"status"`
	}{
		Data:   make([]apiEntry, len(es)),
		Status: http.StatusOK,
	}
	for i, e := range es {
		u.Data[i] = apiEntry{
			Time:     e.Time.Format(time.RFC3339),
			Command:  e.Command,
			User:     e.User,
			Channel:  e.Channel,
			Outcome:  e.Outcome,
			Detail:   e.Detail,
			Indirect: e.Indirect,
		}
	}
	b, err := json.Marshal(&u)
	if err != nil {
		panic(err)
	}
	if _, err := w.Write(b); err != nil {
		log.ErrorContext(ctx, "write response failed", slog.Any("err", err))
	}
}
