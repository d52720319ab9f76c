package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bwt-dev/gobwt/config"
	"github.com/bwt-dev/gobwt/index"
)

// Server is the REST API server. Change streams are fanned out to SSE and
// websocket clients by Notify.
type Server struct {
	query   Backend
	network config.Network
	cors    string
	trigger func() // kicks an immediate index sync
	log     *zap.Logger

	httpSrv *http.Server
	ln      net.Listener
	sse     *sseBroker
	hub     *wsHub
	wg      sync.WaitGroup
}

// NewServer builds the http server. trigger is invoked on POST /sync to
// request an immediate index sync and may be nil.
func NewServer(query Backend, cfg *config.Config, trigger func(), log *zap.Logger) *Server {
	s := &Server{
		query:   query,
		network: cfg.Network,
		cors:    cfg.HTTPCors,
		trigger: trigger,
		log:     log.Named("http"),
		sse:     newSSEBroker(),
	}
	s.hub = newWSHub(s.log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /wallets", s.handleWallets)
	mux.HandleFunc("GET /scripthashes", s.handleScripts)
	mux.HandleFunc("GET /scripthash/{sh}", s.handleScriptInfo)
	mux.HandleFunc("GET /scripthash/{sh}/history", s.handleHistory)
	mux.HandleFunc("GET /scripthash/{sh}/utxos", s.handleUtxos)
	mux.HandleFunc("GET /scripthash/{sh}/balance", s.handleBalance)
	mux.HandleFunc("GET /address/{address}", s.handleAddress)
	mux.HandleFunc("GET /tx/{txid}", s.handleTx)
	mux.HandleFunc("GET /tx/{txid}/hex", s.handleTxHex)
	mux.HandleFunc("POST /tx", s.handleBroadcast)
	mux.HandleFunc("GET /block/tip", s.handleTip)
	mux.HandleFunc("GET /header/{height}", s.handleHeader)
	mux.HandleFunc("GET /fee-estimate/{target}", s.handleFeeEstimate)
	mux.HandleFunc("GET /mempool/info", s.handleMempoolInfo)
	mux.HandleFunc("GET /mempool/histogram", s.handleFeeHistogram)
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /ws", s.hub.handleUpgrade)
	mux.HandleFunc("POST /sync", s.handleSync)

	s.httpSrv = &http.Server{
		Handler:           s.withCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Listen binds the address and starts serving.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info("http server listening", zap.String("addr", ln.Addr().String()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound listener address, or empty before Listen.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Notify fans a sync changelog out to stream clients.
func (s *Server) Notify(changes []index.Change) {
	for _, change := range changes {
		payload, err := json.Marshal(change)
		if err != nil {
			continue
		}
		s.sse.publish(change, payload)
		s.hub.broadcast(payload)
	}
}

// Shutdown stops the server and waits for all handlers and stream clients
// to finish.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.sse.closeAll()
	s.hub.closeAll()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.httpSrv.Close()
	}
	s.wg.Wait()
	s.log.Info("http server stopped")
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cors != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.cors)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("reply write failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) scriptHashPath(w http.ResponseWriter, r *http.Request) (index.ScriptHash, bool) {
	sh, err := index.ParseScriptHash(r.PathValue("sh"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return index.ScriptHash{}, false
	}
	return sh, true
}

func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.query.Wallets())
}

func (s *Server) handleScripts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.query.Scripts())
}

func (s *Server) handleScriptInfo(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.scriptHashPath(w, r)
	if !ok {
		return
	}
	info, ok := s.query.GetScriptInfo(sh)
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("scripthash not tracked"))
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.scriptHashPath(w, r)
	if !ok {
		return
	}
	type historyItem struct {
		Txid        string `json:"txid"`
		BlockHeight uint32 `json:"block_height"`
		Confirmed   bool   `json:"confirmed"`
	}
	history := s.query.GetHistory(sh)
	out := make([]historyItem, 0, len(history))
	for _, entry := range history {
		out = append(out, historyItem{
			Txid:        entry.Txid,
			BlockHeight: entry.Status.Height(),
			Confirmed:   entry.Status.Confirmed(),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUtxos(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.scriptHashPath(w, r)
	if !ok {
		return
	}
	minConf := 0
	if v := r.URL.Query().Get("min_conf"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, errors.New("invalid min_conf"))
			return
		}
		minConf = parsed
	}
	utxos, err := s.query.ListUnspent(r.Context(), sh, minConf)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, utxos)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	sh, ok := s.scriptHashPath(w, r)
	if !ok {
		return
	}
	balance, err := s.query.GetBalance(r.Context(), sh)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	sh, err := index.ScriptHashFromAddress(r.PathValue("address"), s.network)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	info, ok := s.query.GetScriptInfo(sh)
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("address not tracked"))
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleTx(w http.ResponseWriter, r *http.Request) {
	raw, err := s.query.GetTransactionVerbose(r.Context(), r.PathValue("txid"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

func (s *Server) handleTxHex(w http.ResponseWriter, r *http.Request) {
	txHex, err := s.query.GetRawTransaction(r.Context(), r.PathValue("txid"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(txHex))
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TxHex string `json:"tx_hex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TxHex == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing tx_hex"))
		return
	}
	txid, err := s.query.Broadcast(r.Context(), body.TxHex)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"txid": txid})
}

func (s *Server) handleTip(w http.ResponseWriter, r *http.Request) {
	tip, err := s.query.GetTip(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tip)
}

func (s *Server) handleHeader(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(r.PathValue("height"), 10, 32)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid height"))
		return
	}
	header, err := s.query.GetHeaderHex(r.Context(), uint32(height))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(header))
}

func (s *Server) handleFeeEstimate(w http.ResponseWriter, r *http.Request) {
	target, err := strconv.Atoi(r.PathValue("target"))
	if err != nil || target < 1 {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid target"))
		return
	}
	rate, err := s.query.EstimateFee(r.Context(), target)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"target": target, "feerate": rate})
}

func (s *Server) handleMempoolInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.query.MempoolInfo(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleFeeHistogram(w http.ResponseWriter, r *http.Request) {
	histogram, err := s.query.FeeHistogram(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, histogram)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.trigger != nil {
		s.trigger()
	}
	w.WriteHeader(http.StatusAccepted)
}
