package siteguard

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"golang.org/x/crypto/bcrypt"
)

// AdminAPI mounts the operator surface: blacklist management, attack-mode
// switches, the rejection ledger, the audit trail and metrics export. All
// routes sit behind HTTP basic auth checked against a bcrypt hash.
type AdminAPI struct {
	engine *Engine
	cfg    AdminConfig
}

func NewAdminAPI(engine *Engine, cfg AdminConfig) *AdminAPI {
	return &AdminAPI{engine: engine, cfg: cfg}
}

// Register mounts the admin routes on the given router. Nothing is mounted
// when the admin surface is disabled.
func (a *AdminAPI) Register(app fiber.Router) {
	if !a.cfg.Enabled {
		return
	}
	group := app.Group("/admin", basicauth.New(basicauth.Config{
		Authorizer: a.authorize,
	}))

	group.Get("/blacklist", a.listBlacklist)
	group.Post("/blacklist", a.addBlacklist)
	group.Delete("/blacklist/:ipKey", a.removeBlacklist)
	group.Delete("/blacklist/category/:source", a.clearCategory)

	group.Get("/attack", a.attackStatus)
	group.Post("/attack/activate", a.activateAttack)
	group.Post("/attack/deactivate", a.deactivateAttack)

	group.Get("/rejections", a.rejectionSummary)
	group.Get("/audit", a.auditTail)
	group.Get("/metrics", a.engine.PrometheusHandler())
	group.Get("/health", a.health)
}

func (a *AdminAPI) authorize(username, password string) bool {
	if username != a.cfg.Username || a.cfg.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.cfg.PasswordHash), []byte(password)) == nil
}

func (a *AdminAPI) listBlacklist(c *fiber.Ctx) error {
	var filter *BlacklistSource
	if raw := c.Query("source"); raw != "" {
		source := BlacklistSource(raw)
		if !source.Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "unknown source",
			})
		}
		filter = &source
	}
	entries, err := a.engine.Tracker().ListBlocked(filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"count":   len(entries),
		"entries": entries,
	})
}

func (a *AdminAPI) addBlacklist(c *fiber.Ctx) error {
	var req struct {
		IP       string `json:"ip"`
		Reason   string `json:"reason"`
		Duration string `json:"duration"`
		Source   string `json:"source"`
	}
	if err := c.BodyParser(&req); err != nil || req.IP == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "ip is required",
		})
	}
	source := SourceManual
	if req.Source != "" {
		source = BlacklistSource(req.Source)
		if !source.Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "unknown source",
			})
		}
	}
	ttl := a.engine.Config().Reputation.BlacklistDuration.D()
	if req.Duration != "" {
		parsed, err := time.ParseDuration(req.Duration)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid duration",
			})
		}
		ttl = parsed
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual block"
	}
	a.engine.Tracker().AddToBlacklist(req.IP, reason, ttl, source)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status": "blocked",
		"source": source,
	})
}

func (a *AdminAPI) removeBlacklist(c *fiber.Ctx) error {
	ipKey := c.Params("ipKey")
	if !a.engine.Tracker().RemoveKeyFromBlacklist(ipKey) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no entry for key",
		})
	}
	return c.JSON(fiber.Map{"status": "removed"})
}

func (a *AdminAPI) clearCategory(c *fiber.Ctx) error {
	source := BlacklistSource(c.Params("source"))
	if !source.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown source",
		})
	}
	removed, err := a.engine.Tracker().ClearCategory(source)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"removed": removed})
}

func (a *AdminAPI) attackStatus(c *fiber.Ctx) error {
	state, active := a.engine.Monitor().State()
	return c.JSON(fiber.Map{
		"active": active,
		"state":  state,
	})
}

func (a *AdminAPI) activateAttack(c *fiber.Ctx) error {
	if a.engine.Config().EmergencyOverride {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "emergency override is on, defenses are disabled",
		})
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.BodyParser(&req)
	if req.Reason == "" {
		req.Reason = "manual activation"
	}
	a.engine.Monitor().Activate(req.Reason)
	return c.JSON(fiber.Map{"status": "activated"})
}

func (a *AdminAPI) deactivateAttack(c *fiber.Ctx) error {
	a.engine.Monitor().Deactivate()
	return c.JSON(fiber.Map{"status": "deactivated"})
}

func (a *AdminAPI) rejectionSummary(c *fiber.Ctx) error {
	return c.JSON(a.engine.Ledger().Summary())
}

func (a *AdminAPI) auditTail(c *fiber.Ctx) error {
	if a.engine.audit == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": "audit sink not configured",
		})
	}
	limit := c.QueryInt("limit", 100)
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()
	events, err := a.engine.audit.RecentEvents(ctx, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"count":  len(events),
		"events": events,
	})
}

func (a *AdminAPI) health(c *fiber.Ctx) error {
	return c.JSON(a.engine.Health())
}
