package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/oarkflow/ip"

	"github.com/oarkflow/siteguard"
)

const demoForm = `<!DOCTYPE html>
<html>
<body>
<h1>Contact us</h1>
<form method="POST" action="/contact">
  <input type="text" name="name" placeholder="Name">
  <input type="email" name="email" placeholder="Email">
  <textarea name="message" placeholder="Message"></textarea>
  <input type="text" name="website_url" style="display:none" tabindex="-1" autocomplete="off">
  <input type="submit" value="Send">
</form>
</body>
</html>`

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	port := flag.String("port", "", "listen port")
	flag.Parse()

	ip.Init()

	cfg := siteguard.DefaultConfig()
	if *configPath != "" {
		loaded, err := siteguard.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	logger := siteguard.NewStructuredLogger()

	var store siteguard.TTLStore
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisStore, err := siteguard.NewRedisTTLStore(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		store = redisStore
		logger.Info("using redis store", map[string]any{"url": cfg.RedisURL})
	} else {
		memStore := siteguard.NewInMemoryTTLStore()
		stopCleanup := memStore.StartCleanup(time.Minute)
		defer stopCleanup()
		store = memStore
	}

	var audit siteguard.AuditSink
	if cfg.AuditPath != "" {
		sink, err := siteguard.NewSQLiteAuditSink(cfg.AuditPath)
		if err != nil {
			log.Fatalf("open audit sink: %v", err)
		}
		defer sink.Close()
		audit = sink
	}

	engine, err := siteguard.NewEngine(cfg, siteguard.Options{
		Store:  store,
		Logger: logger,
		Audit:  audit,
	})
	if err != nil {
		log.Fatalf("init engine: %v", err)
	}

	var watcher *siteguard.ConfigWatcher
	if *configPath != "" {
		watcher, err = siteguard.NewConfigWatcher(*configPath, logger, engine.ApplyConfig)
		if err != nil {
			logger.Warn("config watcher unavailable", map[string]any{"error": err.Error()})
		}
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New())

	contactForm := siteguard.FormDescriptor{Name: "contact"}
	app.Get("/contact", engine.ServeForm(contactForm, demoForm))
	app.Post("/contact", engine.FormProtection(contactForm), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "received"})
	})

	app.Post("/api/login", engine.LoginProtection(), func(c *fiber.Ctx) error {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
		}
		// Demo credentials only.
		if req.Username != "admin" || req.Password != "password" {
			engine.OnLoginFailure(req.Username, c)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
		}
		engine.OnLoginSuccess(req.Username, c)
		return c.JSON(fiber.Map{"status": "authenticated"})
	})

	app.Get("/api/query-policy", engine.APIProtection(), engine.QueryPolicyHandler())
	app.Get("/metrics", engine.PrometheusHandler())
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(engine.Health())
	})

	siteguard.NewAdminAPI(engine, cfg.Admin).Register(app)

	listen := *port
	if listen == "" {
		listen = os.Getenv("PORT")
	}
	if listen == "" {
		listen = "3000"
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		log.Println("shutting down")
		if watcher != nil {
			if err := watcher.Close(); err != nil {
				log.Printf("error stopping config watcher: %v", err)
			}
		}
		if err := app.Shutdown(); err != nil {
			log.Printf("error shutting down server: %v", err)
		}
	}()

	log.Printf("siteguard demo listening on :%s", listen)
	if err := app.Listen(":" + listen); err != nil {
		log.Fatal(err)
	}
}
