// Package httpapi exposes mint.Mint over the plain JSON HTTP surface:
// key and keyset listing, mint/melt quotes and their execution, and
// swap, each parameterized by a {method} path segment selecting
// bolt11, btconchain, or bitcredit.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/coinshelf/mint/cashu"
	"github.com/coinshelf/mint/mint"
)

type Server struct {
	httpServer *http.Server
	mint       *mint.Mint
}

func NewServer(addr string, m *mint.Mint) *Server {
	s := &Server{mint: m}
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router(),
	}
	return s
}

func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	return s.httpServer.Shutdown(context.Background())
}

func (s *Server) router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", s.info).Methods(http.MethodGet)
	r.HandleFunc("/v1/keys", s.keys).Methods(http.MethodGet)
	r.HandleFunc("/v1/keysets", s.keysets).Methods(http.MethodGet)

	r.HandleFunc("/v1/mint/quote/{method}", s.requestMintQuote).Methods(http.MethodPost)
	r.HandleFunc("/v1/mint/quote/{method}/{quote_id}", s.mintQuoteState).Methods(http.MethodGet)
	r.HandleFunc("/v1/mint/{method}", s.mintTokens).Methods(http.MethodPost)

	r.HandleFunc("/v1/melt/quote/{method}", s.requestMeltQuote).Methods(http.MethodPost)
	r.HandleFunc("/v1/melt/quote/{method}/{quote_id}", s.meltQuoteState).Methods(http.MethodGet)
	r.HandleFunc("/v1/melt/{method}", s.meltTokens).Methods(http.MethodPost)

	r.HandleFunc("/v1/swap", s.swap).Methods(http.MethodPost)

	r.Use(setupHeaders)
	return r
}

func setupHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		if req.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(rw, req)
	})
}

func (s *Server) health(rw http.ResponseWriter, req *http.Request) {
	rw.Write([]byte(`{"status":"ok"}`))
}

func writeCashuError(rw http.ResponseWriter, status int, err error) {
	cashuErr, ok := err.(*cashu.Error)
	if !ok {
		cashuErr = cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
	}
	rw.WriteHeader(status)
	body, _ := json.Marshal(cashuErr)
	rw.Write(body)
}

func writeJSON(rw http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeCashuError(rw, http.StatusInternalServerError, err)
		return
	}
	rw.Write(body)
}

func pathMethod(req *http.Request) (cashu.Method, bool) {
	return cashu.ParseMethod(mux.Vars(req)["method"])
}

func (s *Server) info(rw http.ResponseWriter, req *http.Request) {
	writeJSON(rw, s.mint.RetrieveMintInfo())
}

func (s *Server) keys(rw http.ResponseWriter, req *http.Request) {
	writeJSON(rw, buildKeysResponse(s.mint.Keysets()))
}

func (s *Server) keysets(rw http.ResponseWriter, req *http.Request) {
	writeJSON(rw, buildKeysetsResponse(s.mint.Keysets()))
}

type postMintQuoteRequest struct {
	Amount uint64 `json:"amount"`
	Unit   string `json:"unit"`
	NodeId string `json:"node_id,omitempty"`
	BillId string `json:"bill_id,omitempty"`
}

func (s *Server) requestMintQuote(rw http.ResponseWriter, req *http.Request) {
	method, ok := pathMethod(req)
	if !ok {
		writeCashuError(rw, http.StatusBadRequest, cashu.PaymentMethodNotSupportedErr)
		return
	}

	var body postMintQuoteRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeCashuError(rw, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	quote, err := s.mint.RequestMintQuote(req.Context(), mint.MintQuoteRequest{
		Method:          method,
		Amount:          body.Amount,
		Unit:            body.Unit,
		BitcreditNodeId: body.NodeId,
		BitcreditBillId: body.BillId,
	})
	if err != nil {
		writeCashuError(rw, http.StatusBadRequest, err)
		return
	}
	writeJSON(rw, quoteToResponse(quote))
}

func (s *Server) mintQuoteState(rw http.ResponseWriter, req *http.Request) {
	method, ok := pathMethod(req)
	if !ok {
		writeCashuError(rw, http.StatusBadRequest, cashu.PaymentMethodNotSupportedErr)
		return
	}
	quoteId := mux.Vars(req)["quote_id"]

	quote, err := s.mint.GetMintQuoteState(req.Context(), method, quoteId)
	if err != nil {
		writeCashuError(rw, http.StatusNotFound, err)
		return
	}
	writeJSON(rw, quoteToResponse(quote))
}

type postMintRequest struct {
	Quote   string                `json:"quote"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

func (s *Server) mintTokens(rw http.ResponseWriter, req *http.Request) {
	method, ok := pathMethod(req)
	if !ok {
		writeCashuError(rw, http.StatusBadRequest, cashu.PaymentMethodNotSupportedErr)
		return
	}

	var body postMintRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeCashuError(rw, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	sigs, err := s.mint.MintTokens(req.Context(), method, body.Quote, body.Outputs)
	if err != nil {
		writeCashuError(rw, http.StatusBadRequest, err)
		return
	}
	writeJSON(rw, struct {
		Signatures cashu.BlindedSignatures `json:"signatures"`
	}{sigs})
}

type postMeltQuoteRequest struct {
	Request string `json:"request"`
	Unit    string `json:"unit"`
	Address string `json:"address,omitempty"`
	Amount  uint64 `json:"amount,omitempty"`
}

func (s *Server) requestMeltQuote(rw http.ResponseWriter, req *http.Request) {
	method, ok := pathMethod(req)
	if !ok {
		writeCashuError(rw, http.StatusBadRequest, cashu.PaymentMethodNotSupportedErr)
		return
	}

	var body postMeltQuoteRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeCashuError(rw, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	quote, err := s.mint.RequestMeltQuote(req.Context(), mint.MeltQuoteRequest{
		Method:         method,
		Unit:           body.Unit,
		PaymentRequest: body.Request,
		OnchainAddress: body.Address,
		OnchainAmount:  body.Amount,
	})
	if err != nil {
		writeCashuError(rw, http.StatusBadRequest, err)
		return
	}
	writeJSON(rw, quoteToResponse(quote))
}

func (s *Server) meltQuoteState(rw http.ResponseWriter, req *http.Request) {
	method, ok := pathMethod(req)
	if !ok {
		writeCashuError(rw, http.StatusBadRequest, cashu.PaymentMethodNotSupportedErr)
		return
	}
	quoteId := mux.Vars(req)["quote_id"]

	quote, err := s.mint.GetMeltQuoteState(req.Context(), method, quoteId)
	if err != nil {
		writeCashuError(rw, http.StatusNotFound, err)
		return
	}
	writeJSON(rw, quoteToResponse(quote))
}

type postMeltRequest struct {
	Quote  string                `json:"quote"`
	Inputs cashu.Proofs          `json:"inputs"`
	Change cashu.BlindedMessages `json:"outputs,omitempty"`
}

func (s *Server) meltTokens(rw http.ResponseWriter, req *http.Request) {
	method, ok := pathMethod(req)
	if !ok {
		writeCashuError(rw, http.StatusBadRequest, cashu.PaymentMethodNotSupportedErr)
		return
	}

	var body postMeltRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeCashuError(rw, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	result, err := s.mint.MeltTokens(req.Context(), method, body.Quote, body.Inputs, body.Change)
	if err != nil {
		writeCashuError(rw, http.StatusBadRequest, err)
		return
	}
	writeJSON(rw, struct {
		Paid     bool                    `json:"paid"`
		Preimage string                  `json:"payment_preimage"`
		Change   cashu.BlindedSignatures `json:"change,omitempty"`
	}{Paid: true, Preimage: result.Preimage, Change: result.Change})
}

type postSwapRequest struct {
	Inputs  cashu.Proofs          `json:"inputs"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

func (s *Server) swap(rw http.ResponseWriter, req *http.Request) {
	var body postSwapRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeCashuError(rw, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	sigs, err := s.mint.Swap(req.Context(), body.Inputs, body.Outputs)
	if err != nil {
		writeCashuError(rw, http.StatusBadRequest, err)
		return
	}
	writeJSON(rw, struct {
		Signatures cashu.BlindedSignatures `json:"signatures"`
	}{sigs})
}
