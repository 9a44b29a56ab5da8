package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskhub/api"
	"taskhub/auth"
	"taskhub/events"
	"taskhub/storage"
	"taskhub/tasks"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	debug := log.GetLevel() == log.DebugLevel

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		log.Fatal("missing storage config")
	}
	busyTimeout := 5 * time.Second
	if v := os.Getenv("DB_BUSY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid DB_BUSY_TIMEOUT: %v", err)
		}
		busyTimeout = d
	}
	store, err := storage.New(dbPath, storage.Options{BusyTimeout: busyTimeout, Debug: debug})
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(redisOptions(redisConn))

	eventsChannel := os.Getenv("EVENTS_CHANNEL")
	if eventsChannel == "" {
		eventsChannel = "task-events"
	}

	cacheTTL := 5 * time.Minute
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			log.Fatalf("invalid CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	cache := storage.NewCache(store, rc, cacheTTL)

	logger := log.New()
	if debug {
		logger.SetLevel(log.DebugLevel)
	}

	issuer := os.Getenv("TOKEN_ISSUER")
	if issuer == "" {
		issuer = "taskhub"
	}
	secret := os.Getenv("LOCAL_AUTH_SECRET")

	// Local mode runs the full account lifecycle and mints HS256 tokens; JWKS
	// mode delegates identity and credential lifecycle to the provider, so no
	// local accounts, no token issuance and no credential watermark exist for
	// its subjects. The two are mutually exclusive.
	var (
		authenticator api.Authenticator
		accounts      api.AccountService
	)
	if secret != "" {
		authenticator = api.NewLocalAuth([]byte(secret), issuer, store)
		tokens := auth.NewTokenManager([]byte(secret), issuer)
		accounts = auth.NewService(store, auth.NewHasher(), tokens, logger)
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		domainName := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || domainName == "" {
			log.Fatal("missing auth config: set LOCAL_AUTH_SECRET or AUTH0_AUDIENCE/AUTH0_DOMAIN")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domainName)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		authenticator = api.NewAuth(jwks, jwtAudience, "https://"+domainName+"/", nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub()
	var publisher events.Publisher
	if strings.EqualFold(os.Getenv("EVENTS_TRANSPORT"), "local") {
		// Single-process deployment: feed the hub directly, no broker hop.
		publisher = events.NewHubPublisher(hub)
	} else {
		publisher = events.NewRedisPublisher(rc, eventsChannel)
		go events.SubscribeUpdates(ctx, logger, rc, eventsChannel, hub)
	}
	svc := tasks.NewService(store, cache, store, publisher, cache, logger)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(middleware.Decompress())

	api.Register(e, svc, accounts, authenticator, hub, logger, debug)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

// redisOptions parses either a redis URL or the comma-separated
// host,password=...,ssl=... form some managed providers hand out.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
