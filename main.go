package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
)

func initConfig() {
	Config = CanvasConfig{
		Listen:              ":3024",
		Width:               256,
		Height:              256,
		ChunkSize:           128,
		CooldownSeconds:     60,
		DataDir:             "./data",
		PNGDir:              "./pngs",
		LogDir:              "./logs",
		DBPath:              "./data/canvas.db",
		Issuer:              "https://ourcanvas.app",
		CookieDomain:        ".ourcanvas.app",
		SiteURL:             "https://ourcanvas.app",
		Colors:              DefaultColors,
		PNGRetentionSeconds: 3600,
	}
	Config.Captcha.VerifyURL = "https://www.google.com/recaptcha/api/siteverify"
	Config.Captcha.Threshold = 0.5

	path := os.Getenv("CANVAS_CONFIG")
	if path == "" {
		path = "canvas.toml"
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &Config); err != nil {
			panic("bad config " + path + ": " + err.Error())
		}
	}

	// Deploy-time secrets come from the environment, not the file.
	if v := os.Getenv("CANVAS_LISTEN"); v != "" {
		Config.Listen = v
	}
	if v := os.Getenv("CANVAS_CAPTCHA_SECRET"); v != "" {
		Config.Captcha.Secret = v
	}
	if v := os.Getenv("CANVAS_COOKIE_DOMAIN"); v != "" {
		Config.CookieDomain = v
	}
}

func main() {
	initConfig()
	setupLogging()
	initDB()
	initRateLimits()

	viewingCache = newTTLCache(10 * time.Minute)
	activeCache = newTTLCache(10 * time.Minute)
	changeCache = newTTLCache(5 * time.Minute)
	userCache = newTTLCache(5 * time.Minute)

	var err error
	palette, err = NewPalette(Config.Colors)
	if err != nil {
		ErrorLog.Fatal(err)
	}

	InfoLog.Println("Loading chunk data...")
	canvas, err = NewChunkStore(Config.Width, Config.Height, Config.ChunkSize, palette.Size(), Config.DataDir)
	if err != nil {
		ErrorLog.Fatal(err)
	}

	publisher, err = NewSnapshotPublisher(palette, Config.ChunkSize, canvas.Cols(), canvas.Rows(), Config.PNGDir)
	if err != nil {
		ErrorLog.Fatal(err)
	}
	publisher.PublishAll(canvas)
	canvas.Start(publisher.Publish)

	BootVersion = time.Now().Unix() - EpochBase
	InfoLog.Printf("canvas %dx%d chunks %dx%d version %d",
		Config.Width, Config.Height, canvas.Cols(), canvas.Rows(), BootVersion)

	quit := make(chan struct{})
	go sweepVisitors(quit)
	go publisher.SweepLoop(quit, time.Duration(Config.PNGRetentionSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleRoot)
	mux.HandleFunc("GET /hello", limited(routeState, handleHello))
	mux.HandleFunc("POST /register", limited(routeRegister, handleRegister))
	mux.HandleFunc("GET /state", limited(routeState, handleState))
	mux.HandleFunc("GET /info", handleInfo)
	mux.HandleFunc("GET /info/{x}/{y}", handlePixelInfo)
	mux.HandleFunc("PUT /place", handlePlace)
	mux.Handle("GET /pngs/", http.StripPrefix("/pngs/", http.FileServer(http.Dir(Config.PNGDir))))

	handler := middlewareVersion(mux)
	handler = middlewareCORS(handler)

	server := &http.Server{
		Addr:         Config.Listen,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		InfoLog.Printf("Node %s listening on %s", ServerUUID[:8], Config.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ErrorLog.Fatal(err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	InfoLog.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	close(quit)
	canvas.Stop()

	// Final synchronous flush; memory was the source of truth until now.
	for cx := 0; cx < canvas.Cols(); cx++ {
		for cy := 0; cy < canvas.Rows(); cy++ {
			if err := canvas.Persist(cx, cy); err != nil {
				ErrorLog.Printf("final flush %d,%d: %v", cx, cy, err)
			}
		}
	}
	InfoLog.Println("bye")
}
