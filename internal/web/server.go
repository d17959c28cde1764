package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/marketstream/internal/orderbook"
	"github.com/vadiminshakov/marketstream/internal/storage/bookjournal"
)

const (
	journalPollInterval = 2 * time.Second
	heartbeatInterval   = 30 * time.Second
	defaultDepth        = 20
	defaultCertCache    = "cert-cache"
)

type journalReader interface {
	RecordsAfter(index uint64) ([]bookjournal.Record, error)
	LastBook(symbol string, depth int) (orderbook.Snapshot, error)
}

type bookReader interface {
	Symbols() []string
	Get(symbol string) (*orderbook.Book, error)
}

// Server exposes live order books as JSON and the book journal as an SSE stream.
type Server struct {
	Addr         string
	Books        bookReader
	Journal      journalReader
	PollInterval time.Duration
	logger       *zap.Logger
}

// NewServer creates a new web server instance. journal may be nil.
func NewServer(addr string, books bookReader, journal journalReader, logger *zap.Logger) *Server {
	return &Server{
		Addr:         addr,
		Books:        books,
		Journal:      journal,
		PollInterval: journalPollInterval,
		logger:       logger,
	}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /books", s.handleBooks)
	mux.HandleFunc("GET /books/stream", s.handleJournalStream)
	mux.HandleFunc("GET /books/{symbol...}", s.handleBook)

	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("web server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS serves HTTPS on Addr with certificates obtained via ACME for
// domains. Port 80 answers the HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = defaultCertCache
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 5 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("acme server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("acme server failed", zap.Error(err))
		}
	}()

	s.logger.Info("web server listening", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type bookSummary struct {
	Symbol string `json:"symbol"`
	State  string `json:"state"`
	Nonce  int64  `json:"nonce"`
}

type bookView struct {
	Symbol    string            `json:"symbol"`
	Source    string            `json:"source"`
	Nonce     int64             `json:"nonce"`
	Timestamp time.Time         `json:"timestamp"`
	Bids      []orderbook.Level `json:"bids"`
	Asks      []orderbook.Level `json:"asks"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	out := make([]bookSummary, 0)
	if s.Books != nil {
		for _, symbol := range s.Books.Symbols() {
			book, err := s.Books.Get(symbol)
			if err != nil {
				continue
			}
			out = append(out, bookSummary{Symbol: symbol, State: book.State().String(), Nonce: book.Nonce()})
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// handleBook serves the live book when it is synced and falls back to the
// journal otherwise.
func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	depth := defaultDepth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid depth", http.StatusBadRequest)
			return
		}
		depth = n
	}

	if s.Books != nil {
		if book, err := s.Books.Get(symbol); err == nil {
			if snap, err := book.Limit(depth); err == nil {
				writeJSON(w, http.StatusOK, view("live", snap))
				return
			}
		}
	}
	if s.Journal != nil {
		snap, err := s.Journal.LastBook(symbol, depth)
		if err == nil {
			writeJSON(w, http.StatusOK, view("journal", snap))
			return
		}
		if !errors.Is(err, bookjournal.ErrNoSnapshot) {
			s.logger.Warn("journal replay failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	http.Error(w, "order book not available", http.StatusNotFound)
}

func view(source string, snap orderbook.Snapshot) bookView {
	return bookView{
		Symbol:    snap.Symbol,
		Source:    source,
		Nonce:     snap.Nonce,
		Timestamp: snap.Timestamp,
		Bids:      snap.Bids,
		Asks:      snap.Asks,
	}
}

// handleJournalStream streams journal records as server-sent events. Clients
// resume with Last-Event-ID or ?after=<index>.
func (s *Server) handleJournalStream(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "book journal not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastIndex, err := resumeIndex(r)
	if err != nil {
		http.Error(w, "invalid resume index", http.StatusBadRequest)
		return
	}
	symbol := r.URL.Query().Get("symbol")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// send a comment heartbeat so proxies keep connection
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	poll := s.PollInterval
	if poll <= 0 {
		poll = journalPollInterval
	}
	pollTicker := time.NewTicker(poll)
	defer pollTicker.Stop()

	sendRecords := func() error {
		records, err := s.Journal.RecordsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			lastIndex = record.Index
			if symbol != "" && record.Symbol != symbol {
				continue
			}
			payload, err := json.Marshal(record)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", record.Index)
			fmt.Fprintf(w, "event: %s\n", record.Kind)
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		if len(records) > 0 {
			flusher.Flush()
		}
		return nil
	}

	if err := sendRecords(); err != nil {
		http.Error(w, "failed to load journal", http.StatusInternalServerError)
		s.logger.Error("journal stream initial load", zap.Error(err))
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendRecords(); err != nil {
				s.logger.Warn("journal stream poll", zap.Error(err))
			}
		}
	}
}

func resumeIndex(r *http.Request) (uint64, error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("after")
	}
	if raw == "" {
		return 0, nil
	}

	return strconv.ParseUint(raw, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Live book list with the journal tail.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>marketstream</title>
  <style>
    body { font-family: ui-monospace, monospace; background: #0f1115; color: #d7dae0; margin: 2rem; }
    h1 { font-size: 1.2rem; }
    table { border-collapse: collapse; margin-bottom: 1.5rem; }
    td, th { padding: 0.2rem 0.8rem; text-align: right; }
    .bid { color: #3fb950; }
    .ask { color: #f85149; }
    #journal { max-height: 40vh; overflow-y: auto; font-size: 0.8rem; }
    #status { color: #8b949e; }
  </style>
</head>
<body>
  <h1>marketstream <span id="status">connecting…</span></h1>
  <div id="books"></div>
  <h2>journal</h2>
  <div id="journal"></div>
<script>
const booksEl = document.getElementById('books');
const journalEl = document.getElementById('journal');
const statusEl = document.getElementById('status');
const MAX_ROWS = 200;

const renderBook = (book) => {
  const rows = [];
  const n = Math.max(book.bids.length, book.asks.length);
  for (let i = 0; i < n; i++) {
    const bid = book.bids[i] || {};
    const ask = book.asks[i] || {};
    rows.push('<tr><td class="bid">' + (bid.size || '') + '</td><td class="bid">' + (bid.price || '') +
      '</td><td class="ask">' + (ask.price || '') + '</td><td class="ask">' + (ask.size || '') + '</td></tr>');
  }
  return '<h3>' + book.symbol + ' <small>' + book.source + ' #' + book.nonce + '</small></h3><table>' + rows.join('') + '</table>';
};

const refreshBooks = async () => {
  const list = await (await fetch('/books')).json();
  const views = await Promise.all(list.map(async (b) => {
    const res = await fetch('/books/' + b.symbol + '?depth=10');
    return res.ok ? renderBook(await res.json()) : '<h3>' + b.symbol + ' <small>' + b.state + '</small></h3>';
  }));
  booksEl.innerHTML = views.join('');
};

const source = new EventSource('/books/stream');
source.onopen = () => { statusEl.textContent = 'live'; };
source.onerror = () => { statusEl.textContent = 'reconnecting…'; };
['snapshot', 'delta', 'invalidate'].forEach((kind) => {
  source.addEventListener(kind, (ev) => {
    const rec = JSON.parse(ev.data);
    const row = document.createElement('div');
    row.textContent = rec.index + ' ' + kind + ' ' + rec.symbol + ' nonce=' + rec.nonce;
    journalEl.prepend(row);
    while (journalEl.childNodes.length > MAX_ROWS) journalEl.removeChild(journalEl.lastChild);
  });
});

refreshBooks();
setInterval(refreshBooks, 1000);
</script>
</body>
</html>
`
