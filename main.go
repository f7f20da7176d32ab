package main

import (
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

	"flowboard/api"
	"flowboard/domain"
	"flowboard/realtime"
	"flowboard/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(dbPath)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	var rc *redis.Client
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		redisOpts, err := redis.ParseURL(redisConn)
		if err != nil {
			parts := strings.Split(redisConn, ",")
			redisOpts = &redis.Options{Addr: parts[0]}
			for _, p := range parts[1:] {
				kv := strings.SplitN(p, "=", 2)
				if len(kv) != 2 {
					continue
				}
				switch strings.ToLower(kv[0]) {
				case "password":
					redisOpts.Password = kv[1]
				case "ssl":
					if strings.ToLower(kv[1]) == "true" {
						redisOpts.TLSConfig = &tls.Config{}
					}
				}
			}
		}
		rc = redis.NewClient(redisOpts)
	}
	cacheTTL := time.Minute
	if v := os.Getenv("BOARD_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid BOARD_CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	cache := storage.NewCache(store, rc, cacheTTL)

	var auth *api.Auth
	if strings.ToLower(os.Getenv("LOCAL_AUTH_MODE")) == "hs256" {
		secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET")
		if secret == "" {
			log.Fatal("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
		auth = api.NewLocalAuth([]byte(secret))
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		authDomain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || authDomain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", authDomain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+authDomain+"/")
	}

	logger := log.New()

	relaySecret := os.Getenv("RELAY_SECRET")
	if relaySecret == "" {
		log.Fatal("missing RELAY_SECRET")
	}

	// An instance either owns the live subscriber registry or relays its
	// publishes to the sibling instance that does.
	var hub *realtime.Hub
	var relay *realtime.RelaySender
	if disabled, err := strconv.ParseBool(os.Getenv("STREAM_DISABLED")); err != nil || !disabled {
		hub = realtime.NewHub()
	} else {
		relayURL := os.Getenv("RELAY_URL")
		if relayURL == "" {
			log.Fatal("RELAY_URL must be set when STREAM_DISABLED=true")
		}
		relayTimeout := 3 * time.Second
		if v := os.Getenv("RELAY_TIMEOUT"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				log.Fatalf("invalid RELAY_TIMEOUT: %v", err)
			}
			relayTimeout = d
		}
		relay = realtime.NewRelaySender(relayURL, relaySecret, relayTimeout,
			envInt("RELAY_WORKERS", 4), envInt("RELAY_BUFFER", 256), logger)
		defer relay.Close()
	}
	broadcaster := realtime.NewBroadcaster(hub, relay, logger)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, api.Deps{
		Store:       store,
		Snapshots:   cache,
		Evictor:     cache,
		Auth:        auth,
		Gate:        domain.NewAccessGate(store),
		Engine:      domain.NewReorderEngine(store),
		Recorder:    domain.NewActivityRecorder(store, logger),
		Events:      broadcaster,
		Hub:         hub,
		RelaySecret: relaySecret,
		Logger:      logger,
	})

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Fatalf("invalid %s: %v", name, v)
	}
	return n
}
