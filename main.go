package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"campus-courier/config"
	"campus-courier/database"
	"campus-courier/firebase"
	"campus-courier/handlers"
	"campus-courier/maps"
	"campus-courier/services"
	"campus-courier/utilities"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	utilities.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeDB, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Database.Driver, err)
	}
	defer closeDB()

	verifier, history, closeHistory, err := identityStack(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to set up authentication: %v", err)
	}
	defer closeHistory()

	machine := services.NewStateMachine(nil)
	ledger := services.NewCreditLedger(services.PolicyByName(cfg.CreditPolicy), nil)
	checker := services.NewEligibilityChecker(ledger)
	arbiter := services.NewAcceptanceArbiter(store, machine, checker, nil)
	tasks := services.NewTaskService(services.TaskServiceConfig{
		Repo:       store,
		Machine:    machine,
		Ledger:     ledger,
		Arbiter:    arbiter,
		Geocoder:   maps.NewAMapGeocoder(cfg.AMapKey),
		Recorder:   history,
		Ratings:    store,
		AdminUIDs:  cfg.AdminUIDs,
		GrabWindow: cfg.GrabWindow,
	})
	sweeper := services.NewExpirySweeper(store, machine, ledger, cfg.SweepInterval, nil).WithRecorder(history)
	utilities.LogInfo("Credit policy: %s", ledger.PolicyName())

	app := &handlers.App{
		Tasks:       tasks,
		Evaluations: services.NewEvaluationService(store, store, nil),
		Appeals:     services.NewAppealService(store, store, nil),
		History:     history,
		Verifier:    verifier,
	}
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           NewRouter(app, cfg.CORSAllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run(ctx)
	}()

	go func() {
		utilities.LogInfo("Server listening on port %s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utilities.LogError(err, "HTTP server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	utilities.LogInfo("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utilities.LogError(err, "HTTP server shutdown")
	}
	<-sweeperDone
}

// identityStack picks the token verifier and credit history backend. Firebase
// serves both when credentials are configured; otherwise dev mode is required.
func identityStack(ctx context.Context, cfg *config.Config) (handlers.TokenVerifier, services.CreditHistory, func() error, error) {
	noop := func() error { return nil }

	if cfg.FirebaseCredentialsPath == "" {
		if !cfg.AuthDevMode {
			return nil, nil, nil, errors.New("FIREBASE_CREDENTIALS_PATH is empty and AUTH_DEV_MODE is off")
		}
		utilities.LogWarn("AUTH_DEV_MODE is on: bearer tokens are trusted as user ids")
		return handlers.DevTokenVerifier{}, database.NewMemoryCreditHistory(), noop, nil
	}

	app, err := firebase.InitializeFirebase(ctx, cfg.FirebaseCredentialsPath)
	if err != nil {
		return nil, nil, nil, err
	}
	verifier, err := firebase.NewAuthVerifier(ctx, app)
	if err != nil {
		return nil, nil, nil, err
	}

	client, err := firebase.GetFirestoreClient(ctx, app)
	if err != nil {
		utilities.LogWarn("Firestore unavailable, keeping credit history in memory: %v", err)
		return verifier, database.NewMemoryCreditHistory(), noop, nil
	}
	store := firebase.NewCreditHistoryStore(client, cfg.CreditHistoryCollection)
	return verifier, store, store.Close, nil
}
