package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "codemeet/internal/handler/http"
	wsHandler "codemeet/internal/handler/websocket"
	"codemeet/internal/hub"
	gormpersistence "codemeet/internal/infra/persistence/gorm"
	"codemeet/internal/infra/setup"
	"codemeet/internal/middleware"
	"codemeet/internal/room"
	"codemeet/internal/service"
	"codemeet/internal/worker"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	DBUser          string
	DBPassword      string
	DBHost          string
	DBPort          string
	DBName          string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ServerPort      string
	LogLevel        string
	AppEnv          string // 应用环境 (development/production)
	StaticDir       string // 演示客户端静态文件目录，为空时不挂载
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)，忽略错误，允许只使用环境变量
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBHost:        os.Getenv("DB_HOST"),
		DBPort:        os.Getenv("DB_PORT"),
		DBName:        os.Getenv("DB_NAME"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		ServerPort:    os.Getenv("SERVER_PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		AppEnv:        os.Getenv("APP_ENV"),
		StaticDir:     os.Getenv("STATIC_DIR"),
		// --- 默认值 ---
		RateLimitMax:    100,
		RateLimitWindow: 1 * time.Second,
	}

	cfg.RedisDB, _ = strconv.Atoi(os.Getenv("REDIS_DB")) // 忽略错误，默认为 0

	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = "./static"
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *hub.Hub
	HttpServer  *http.Server
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // 已被 LoadConfig 验证
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	logrus.SetLevel(logLevel) // 包级 logger 与实例保持一致
	log.Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	log.Info("Database initialized")

	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	log.Info("Redis client initialized")

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Asynq client initialized")

	// 4. 初始化 Repository
	meetingRepo := gormpersistence.NewGormMeetingRepository(db)
	log.Info("Repositories initialized")

	// 5. 初始化房间存储和 Services
	store := room.NewStore()
	signalingService := service.NewSignalingService(store, meetingRepo, asynqClient)
	collabService := service.NewCollaborationService(store, asynqClient)
	log.Info("Services initialized")

	// 6. 初始化 Hub
	hubInstance := hub.NewHub(signalingService, collabService)
	log.Info("Hub initialized")

	// 7. 初始化 Handlers
	meetingHandler := httpHandler.NewMeetingHandler(meetingRepo)
	websocketHandler := wsHandler.NewWebSocketHandler(hubInstance)
	log.Info("Handlers initialized")

	// 8. 初始化 Worker Server
	workerServer := worker.NewWorkerServer(redisClientOpt, meetingRepo, log)
	log.Info("Worker server initialized")

	// 9. 初始化 Gin Engine 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))

	router.Use(func(c *gin.Context) { /* CORS */
		allowedOrigin := os.Getenv("CORS_ALLOWED_ORIGIN")
		if allowedOrigin == "" {
			allowedOrigin = "*"
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	router.Use(middleware.RateLimit(redisClient, cfg.RateLimitMax, cfg.RateLimitWindow))

	// --- 设置路由 ---
	router.GET("/ws", websocketHandler.HandleConnection)
	api := router.Group("/api")
	{
		api.GET("/meetings/:roomId/notes", meetingHandler.GetNotes)
	}
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })

	// 演示客户端 (目录存在时才挂载)
	if st, err := os.Stat(cfg.StaticDir); err == nil && st.IsDir() {
		router.Static("/static", cfg.StaticDir)
		router.StaticFile("/", cfg.StaticDir+"/index.html")
	}
	log.Info("Router setup complete")

	// 10. 初始化 HTTP Server
	httpServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	return &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		RedisClient: redisClient,
		AsynqClient: asynqClient,
		AsynqServer: workerServer,
		Hub:         hubInstance,
		HttpServer:  httpServer,
	}, nil
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")
	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	go a.AsynqServer.Start()
	a.Log.Info("Asynq worker server routine started")

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 优雅关闭 HTTP 服务器 (停止接受新连接)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 停止 Hub 主循环
	if a.Hub != nil {
		a.Hub.Close()
	}

	// 3. 优雅关闭 Worker Server (等待在途任务完成)
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// 4. 关闭 Asynq Client
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}

	// 5. 关闭 Redis 连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		if errorMessage != "" {
			entry.Error(errorMessage)
		} else if statusCode >= 500 {
			entry.Error("Server error")
		} else if statusCode >= 400 {
			entry.Warn("Client error")
		} else {
			entry.Info("Request handled")
		}
	}
}
