package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mhismail3/pdfcombiner/internal/cache"
	"github.com/mhismail3/pdfcombiner/internal/config"
	"github.com/mhismail3/pdfcombiner/internal/engine"
	"github.com/mhismail3/pdfcombiner/internal/handlers"
	"github.com/mhismail3/pdfcombiner/internal/middleware"
	"github.com/mhismail3/pdfcombiner/internal/pipeline"
	"github.com/mhismail3/pdfcombiner/internal/prefs"
	"github.com/mhismail3/pdfcombiner/internal/scheduler"
	"github.com/mhismail3/pdfcombiner/pkg/logger"
)

const (
	// Время на аккуратное завершение работы сервера (доделать текущие запросы).
	shutdownTimeout = 30 * time.Second

	requestTimeout = 60 * time.Second
)

// App — сердце приложения.
// Структура держит вместе все зависимости, чтобы их не приходилось
// передавать глобально. Это упрощает тестирование и управление жизненным
// циклом (старт/стоп).
type App struct {
	config   *config.Config
	logger   *zap.Logger
	cache    *cache.ThumbnailLRU
	prefs    *prefs.Store
	pipeline *pipeline.ThumbnailPipeline
	server   *http.Server

	// Гарантия однократной инициализации.
	initOnce sync.Once
	initErr  error

	wg sync.WaitGroup

	// Гарантия, что Shutdown выполнится только один раз.
	shutdownOnce sync.Once
}

// NewApp создает "пустую" заготовку приложения.
// Основная настройка произойдет позже в методе Initialize().
func NewApp() *App {
	return &App{}
}

// Initialize запускает процесс настройки всех компонентов.
// Работает по принципу "все или ничего": если что-то сломалось — возвращаем ошибку.
func (a *App) Initialize() error {
	a.initOnce.Do(func() {
		a.initErr = a.doInitialize()
	})
	return a.initErr
}

// doInitialize — "сборочный цех" приложения.
// Порядок важен: сначала базовые вещи (логгер, конфиг), потом слои
// (движок рендеринга -> кэш -> pipeline -> API).
func (a *App) doInitialize() error {
	// 1. Сначала логгер, чтобы видеть, что происходит (или почему упало).
	if err := logger.Init("info", true); err != nil {
		return fmt.Errorf("не удалось инициализировать логгер: %w", err)
	}
	a.logger = logger.Get()

	// 2. Загружаем настройки.
	// Сначала смотрим переменную окружения, если нет — ищем файл по умолчанию.
	configPath := os.Getenv("APP_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Пытаемся загрузить файл. Если его нет — не страшно, работаем на
	// значениях по умолчанию и переменных окружения (ENV).
	if err := config.Load(configPath); err != nil {
		a.logger.Warn("не удалось загрузить конфиг-файл, используем значения по умолчанию и ENV",
			zap.Error(err),
		)
		if err := config.Load(""); err != nil {
			return fmt.Errorf("критическая ошибка конфигурации: %w", err)
		}
	}

	a.config = config.Get()
	a.logger.Info("конфигурация загружена",
		zap.String("server_host", a.config.Server.Host),
		zap.Int("server_port", a.config.Server.Port),
		zap.Int("cache_capacity", a.config.Cache.Capacity),
	)

	// 3. Кэш миниатюр. Вместимость считается в миниатюрах.
	a.cache = cache.NewThumbnailLRU(a.config.Cache.Capacity, a.logger.Named("cache"))

	// 4. Настройки пользователя (уровень масштаба между запусками).
	store, err := prefs.NewStore(a.config.Prefs.Path, a.logger.Named("prefs"))
	if err != nil {
		return fmt.Errorf("ошибка инициализации настроек: %w", err)
	}
	a.prefs = store

	// 5. Собираем pipeline: движок рендеринга, кэш и планировщик воедино.
	a.pipeline = pipeline.New(
		engine.NewFitz(),
		a.cache,
		a.logger.Named("pipeline"),
		pipeline.Options{
			QueueSize:            a.config.Dispatch.QueueSize,
			MaxConcurrentRenders: a.config.Renderer.MaxConcurrentRenders,
			JPEGQuality:          a.config.Renderer.JPEGQuality,
			Scheduler: scheduler.Config{
				ThumbnailWidth:  a.config.Scheduler.ThumbnailWidth,
				ThumbnailHeight: a.config.Scheduler.ThumbnailHeight,
				Gap:             a.config.Scheduler.Gap,
				MinColumns:      a.config.Scheduler.MinColumns,
				BufferRows:      a.config.Scheduler.BufferRows,
				BatchSize:       a.config.Scheduler.BatchSize,
			},
		},
	)

	// 6. И наконец, поднимаем HTTP сервер.
	a.initializeServer()

	a.logger.Info("приложение готово к работе")
	return nil
}

// initializeServer настраивает HTTP-роутинг и middleware.
func (a *App) initializeServer() {
	docHandler := handlers.NewDocumentHandler(a.pipeline, a.prefs, a.logger.Named("http"))

	r := chi.NewRouter()

	// Проверка здоровья сервиса (/health).
	// Важно: без middleware, чтобы отвечать максимально быстро и надежно.
	r.Get("/health", a.healthCheckHandler)

	// Цепочка middleware (по порядку для каждого запроса):
	// 1. Логирование (кто пришел?)
	// 2. Recovery (чтобы паника не уронила весь сервер)
	// 3. Timeout (чтобы запросы не висели вечно)
	r.Group(func(r chi.Router) {
		r.Use(middleware.LoggingMiddleware(a.logger))
		r.Use(middleware.RecoveryMiddleware(a.logger))
		r.Use(middleware.TimeoutMiddleware(requestTimeout))

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", docHandler.OpenDocument)
			r.Post("/merge", docHandler.MergeDocuments)
			r.Route("/{fingerprint}", func(r chi.Router) {
				r.Get("/", docHandler.GetDocument)
				r.Delete("/", docHandler.CloseDocument)
				r.Get("/cached-pages", docHandler.GetCachedPages)
				r.Post("/viewport", docHandler.HandleViewport)
				r.Post("/extract", docHandler.ExtractPages)
				r.Get("/pages/{page}/thumbnail", docHandler.GetThumbnail)
			})
		})

		r.Route("/prefs", func(r chi.Router) {
			r.Get("/zoom", docHandler.GetZoom)
			r.Put("/zoom", docHandler.SetZoom)
		})
	})

	addr := fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port)
	a.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second, // Рендер большой страницы может быть долгим
		IdleTimeout:  60 * time.Second,
	}
}

// healthCheckHandler отвечает на проверки "ты жив?".
func (a *App) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":      "ok",
		"timestamp":   time.Now().Unix(),
		"cache_size":  a.cache.Len(),
		"cache_limit": a.cache.Cap(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(health)
}

// Start запускает сервер и начинает принимать запросы.
// Блокирует выполнение только в горутине сервера.
func (a *App) Start() error {
	if err := a.Initialize(); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("запуск HTTP сервера",
			zap.String("адрес", a.server.Addr),
		)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Fatal("сервер упал с ошибкой", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown аккуратно останавливает приложение.
// Не просто рубим питание, а ждем завершения текущих запросов.
func (a *App) Shutdown() error {
	var shutdownErr error

	a.shutdownOnce.Do(func() {
		a.logger.Info("начинаем остановку приложения...")

		// 1. Останавливаем прием новых HTTP запросов
		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := a.server.Shutdown(ctx); err != nil {
				a.logger.Error("ошибка при остановке сервера", zap.Error(err))
				shutdownErr = err
			}
			cancel()
		}

		// 2. Закрываем все открытые документы и их диспетчеры
		if a.pipeline != nil {
			a.pipeline.Shutdown()
		}

		// 3. Ждем горутину сервера
		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			a.logger.Info("все фоновые процессы завершены")
		case <-time.After(shutdownTimeout):
			a.logger.Warn("таймаут ожидания завершения процессов (принудительный выход)")
		}

		if a.logger != nil {
			_ = a.logger.Sync()
		}

		a.logger.Info("приложение остановлено успешно")
	})

	return shutdownErr
}

func main() {
	app := NewApp()

	if err := app.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Фатальная ошибка запуска: %v\n", err)
		os.Exit(1)
	}

	// Ожидание сигналов завершения от ОС (Ctrl+C или docker stop)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := app.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка при остановке: %v\n", err)
		os.Exit(1)
	}
}
