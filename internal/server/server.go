package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/modbridge/internal/infra"
	"github.com/xela07ax/modbridge/internal/infra/auth"
	"github.com/xela07ax/modbridge/internal/pipeline"
	"github.com/xela07ax/modbridge/internal/server/handler"
)

type BridgeServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Проверка операторских токенов (RS256)
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler       *handler.AuthHandler       // /auth/token
	submissionHandler *handler.SubmissionHandler // /v1/submissions
	callbackHandler   *handler.CallbackHandler   // /v1/callbacks (движок + ревью)
	eventHandler      *handler.EventHandler      // /v1/events (Query API)
	dashHandler       *handler.DashboardHandler  // /v1/dashboard
	statusHandler     *handler.StatusHandler     // /v1/status
	watchHandler      *handler.WatchlistHandler  // /v1/watchlist
}

// NewBridgeServer инициализирует HTTP-поверхность моста со всеми зависимостями
func NewBridgeServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	submissionH *handler.SubmissionHandler,
	callbackH *handler.CallbackHandler,
	eventH *handler.EventHandler,
	dashH *handler.DashboardHandler,
	statusH *handler.StatusHandler,
	watchH *handler.WatchlistHandler,
) *BridgeServer {
	s := &BridgeServer{
		router:            chi.NewRouter(),
		logger:            logger.Named("bridge-api"),
		cfg:               cfg,
		authValidator:     validator,
		authHandler:       authH,
		submissionHandler: submissionH,
		callbackHandler:   callbackH,
		eventHandler:      eventH,
		dashHandler:       dashH,
		statusHandler:     statusH,
		watchHandler:      watchH,
	}

	s.routes()
	return s
}

func (s *BridgeServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(pipeline.TracingMiddleware)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Прием контента от хоста
		r.Post("/v1/submissions", s.submissionHandler.Create)

		// Здоровье компонентов
		r.Get("/v1/status", s.statusHandler.Get)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. КОЛБЭКИ ВНЕШНИХ СИСТЕМ ---
	r.Group(func(r chi.Router) {
		// Вебхук движка защищен HMAC-подписью сырого тела
		r.With(auth.NewSignatureMiddleware(s.cfg.Engine.WebhookSecret, s.logger)).
			Post("/v1/callbacks/engine", s.callbackHandler.Engine)

		// Очередь ревью коррелирует по client_context, подпись не требуется
		r.Post("/v1/callbacks/review", s.callbackHandler.Review)
	})

	// --- 4. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Query API, требует RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		r.Get("/v1/dashboard/stats", s.dashHandler.GetStats)

		r.Route("/v1/events", func(r chi.Router) {
			r.Get("/", s.eventHandler.List)
			r.Get("/{id}", s.eventHandler.Get)
		})

		// Полный след модерации по контенту
		r.Get("/v1/contents/{contentID}/events", s.eventHandler.History)

		// Операторское снятие автора с принудительной эскалации
		r.Delete("/v1/watchlist/{submitterID}", s.watchHandler.Delist)
	})
}

// ServeHTTP позволяет использовать BridgeServer как стандартный http.Handler
func (s *BridgeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
