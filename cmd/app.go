package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/embernetwork/ember-wallet/internal/bridge"
	"github.com/embernetwork/ember-wallet/internal/config"
	"github.com/embernetwork/ember-wallet/internal/db"
	"github.com/embernetwork/ember-wallet/internal/http"
	"github.com/embernetwork/ember-wallet/internal/keys"
	"github.com/embernetwork/ember-wallet/internal/node"
	"github.com/embernetwork/ember-wallet/internal/recovery"
	"github.com/embernetwork/ember-wallet/internal/state"
	"github.com/embernetwork/ember-wallet/internal/validation"
	"github.com/embernetwork/ember-wallet/internal/wallet"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	DatabaseManager *db.DatabaseManager
	State           *state.State
	WalletService   *wallet.WalletServer
	Validator       *validation.Validator
	Recoverer       *recovery.Recoverer
	HTTPServer      *http.HTTPServer
	ContextHandle   uint64
}

func NewApplication() *Application {
	config.InitConfig()

	key, err := walletKey()
	if err != nil {
		log.Fatalf("Failed to initialize wallet key: %v", err)
	}

	dbm := db.NewDatabaseManager()
	state := state.InitializeState(dbm)

	// the concrete base node transport plugs in here
	nodeClient := node.NewMemoryClient()
	peer := wallet.NewMemoryPeer()

	walletService := wallet.NewWalletServer(state, peer, nodeClient, key)
	validator := validation.NewValidator(state, nodeClient)
	recoverer := recovery.NewRecoverer(state, nodeClient, key)
	httpServer := http.NewHTTPServer(state, walletService, recoverer)

	handle := bridge.CreateContext(state, walletService, validator, recoverer, bridge.Callbacks{})

	return &Application{
		DatabaseManager: dbm,
		State:           state,
		WalletService:   walletService,
		Validator:       validator,
		Recoverer:       recoverer,
		HTTPServer:      httpServer,
		ContextHandle:   handle,
	}
}

func walletKey() (*keys.WalletKey, error) {
	if config.AppConfig.SeedWords != "" {
		return keys.WalletKeyFromSeedWords(config.AppConfig.SeedWords, "")
	}
	return keys.GenerateWalletKey()
}

func (app *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.WalletService.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Validator.Start(ctx)
	}()

	if config.AppConfig.EnableHTTP {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.HTTPServer.Start(ctx)
		}()
	}

	<-stop
	log.Info("Receiving exit signal...")

	cancel()

	wg.Wait()
	bridge.DestroyContext(app.ContextHandle)
	log.Info("Server stopped")
}

func main() {
	app := NewApplication()
	app.Run()
}
