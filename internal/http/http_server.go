package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/embernetwork/ember-wallet/internal/config"
	"github.com/embernetwork/ember-wallet/internal/db"
	"github.com/embernetwork/ember-wallet/internal/recovery"
	"github.com/embernetwork/ember-wallet/internal/state"
	"github.com/embernetwork/ember-wallet/internal/wallet"
)

// HTTPServer exposes a read-mostly status API over the wallet. Money
// movement stays on the host boundary, the HTTP surface only adds contact
// management on top of the inspection endpoints.
type HTTPServer struct {
	state     *state.State
	wallet    *wallet.WalletServer
	recoverer *recovery.Recoverer
}

func NewHTTPServer(st *state.State, walletServer *wallet.WalletServer, recoverer *recovery.Recoverer) *HTTPServer {
	return &HTTPServer{
		state:     st,
		wallet:    walletServer,
		recoverer: recoverer,
	}
}

func (hs *HTTPServer) Start(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	r.GET("/api/v1/balance", hs.handleBalance)
	r.GET("/api/v1/transactions/:collection", hs.handleTransactions)
	r.GET("/api/v1/transaction/:id", hs.handleTransaction)
	r.GET("/api/v1/contacts", hs.handleContacts)
	r.POST("/api/v1/contacts", hs.handleUpsertContact)
	r.DELETE("/api/v1/contacts/:alias", hs.handleRemoveContact)
	r.GET("/api/v1/recovery", hs.handleRecovery)
	r.GET("/api/v1/status", hs.handleStatus)
	r.GET("/api/v1/fees", hs.handleFeeStats)

	srv := &http.Server{
		Addr:    ":" + config.AppConfig.HTTPPort,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("HTTP server shutdown error: %v", err)
		}
	}()

	log.Infof("HTTP server is running on port %s", config.AppConfig.HTTPPort)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start HTTP server: %v", err)
	}
}

func (hs *HTTPServer) handleBalance(c *gin.Context) {
	balance, err := hs.state.GetBalance()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": balance})
}

var collections = map[string]string{
	"pending_inbound":  db.COLLECTION_PENDING_INBOUND,
	"pending_outbound": db.COLLECTION_PENDING_OUTBOUND,
	"completed":        db.COLLECTION_COMPLETED,
	"cancelled":        db.COLLECTION_CANCELLED,
}

func (hs *HTTPServer) handleTransactions(c *gin.Context) {
	collection, ok := collections[c.Param("collection")]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown collection"})
		return
	}
	txs, err := hs.state.ListTransactions(collection)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": txs})
}

func (hs *HTTPServer) handleTransaction(c *gin.Context) {
	txID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
		return
	}
	tx, err := hs.state.GetTransaction(txID)
	if err != nil {
		if err == state.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": tx})
}

func (hs *HTTPServer) handleContacts(c *gin.Context) {
	contacts, err := hs.state.ListContacts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": contacts})
}

type upsertContactRequest struct {
	Alias     string `json:"alias" binding:"required"`
	PublicKey string `json:"public_key" binding:"required"`
}

func (hs *HTTPServer) handleUpsertContact(c *gin.Context) {
	var req upsertContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := hs.state.UpsertContact(req.Alias, req.PublicKey); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (hs *HTTPServer) handleRemoveContact(c *gin.Context) {
	if err := hs.state.RemoveContact(c.Param("alias")); err != nil {
		if err == state.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (hs *HTTPServer) handleRecovery(c *gin.Context) {
	session, active := hs.recoverer.GetSession()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": gin.H{"active": active, "session": session}})
}

func (hs *HTTPServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": gin.H{
		"public_key":   hs.wallet.PublicKey(),
		"connectivity": hs.state.GetConnectivity(),
		"tip_height":   hs.state.GetTipHeight(),
	}})
}

func (hs *HTTPServer) handleFeeStats(c *gin.Context) {
	count := 20
	if raw := c.Query("count"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			count = parsed
		}
	}
	stats, err := hs.wallet.GetFeePerGramStats(count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": stats})
}
