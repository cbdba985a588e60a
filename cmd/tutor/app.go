package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nidhogg/tutor/internal/cache"
	"github.com/nidhogg/tutor/internal/config"
	"github.com/nidhogg/tutor/internal/learn"
	"github.com/nidhogg/tutor/internal/metrics"
	"github.com/nidhogg/tutor/internal/provider"
	"github.com/nidhogg/tutor/internal/runtime"
	"github.com/nidhogg/tutor/internal/skill"
	"github.com/nidhogg/tutor/internal/store"
)

// app holds everything the commands share.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	router  *provider.Router
	student *runtime.LLM
	teacher *runtime.LLM
	skills  *skill.Manager
	sources map[string]skill.Source
	learner *learn.Learner
	store   *store.Store
	cache   *cache.Redis
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// newApp loads the config and wires providers, runtimes, skills and the
// optional Redis cache and PostgreSQL store. Unreachable backing services
// are logged and skipped.
func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.Info("config loaded", zap.String("path", cfgPath))

	a := &app{cfg: cfg, logger: logger, metrics: metrics.NewCollector("tutor", logger)}

	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		p, err := provider.New(pc.Provider(), logger)
		if err != nil {
			logger.Warn("skipping provider", zap.String("id", pc.ID), zap.Error(err))
			continue
		}
		router.Register(p)
	}
	a.router = router
	teacherCfg := cfg.Roles.Teacher
	if teacherCfg.Provider == "" {
		teacherCfg = cfg.Roles.Student
	}
	for role, rc := range map[string]config.RoleConfig{provider.RoleStudent: cfg.Roles.Student, provider.RoleTeacher: teacherCfg} {
		if rc.Provider != "" {
			router.Bind(role, rc.Provider)
		}
		if len(rc.Fallbacks) > 0 {
			router.SetFallbacks(role, rc.Fallbacks)
		}
	}

	a.student = runtime.NewLLM(router, runtimeConfig(provider.RoleStudent, cfg.Roles.Student, cfg.Runtime), logger).WithObserver(a.metrics)
	a.teacher = runtime.NewLLM(router, runtimeConfig(provider.RoleTeacher, teacherCfg, cfg.Runtime), logger).WithObserver(a.metrics)

	if url := cfg.Database.Redis.URL; url != "" {
		c, err := cache.NewRedis(url, cfg.Database.Redis.CacheTTL.Duration, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without response cache", zap.Error(err))
		} else {
			a.cache = c
			a.student.WithCache(c)
			a.teacher.WithCache(c)
		}
	}

	if dsn := cfg.Database.Postgres.DSN; dsn != "" {
		s, err := store.New(ctx, dsn, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, running without version history", zap.Error(err))
		} else if err := s.Migrate(ctx, cfg.Database.Postgres.MigrationsDir); err != nil {
			s.Close()
			a.close()
			return nil, fmt.Errorf("migrate: %w", err)
		} else {
			a.store = s
		}
	}

	a.skills = skill.NewManager()
	a.sources = map[string]skill.Source{}
	loaded, err := skill.LoadSources(cfg.SkillsDir,
		skill.WithLogger(logger),
		skill.WithConcurrency(cfg.Runtime.BatchConcurrency),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	for _, src := range loaded {
		a.skills.Add(src.Skill)
		a.sources[src.Skill.Descriptor().Name()] = src
	}
	a.restoreVersions(ctx)
	logger.Info("skills loaded", zap.Int("count", len(loaded)), zap.String("dir", cfg.SkillsDir))

	a.learner = learn.NewLearner(a.student, a.teacher, logger).WithRecorder(a.metrics)
	if a.store != nil {
		a.learner.WithStore(a.store)
	}
	return a, nil
}

func runtimeConfig(role string, rc config.RoleConfig, rt config.RuntimeConfig) runtime.Config {
	return runtime.Config{
		Role:        role,
		Model:       rc.Model,
		Temperature: rc.Temperature,
		MaxTokens:   rc.MaxTokens,
		Concurrency: rt.Concurrency,
	}
}

// restoreVersions replaces the instructions of each loaded skill with the
// latest learned version, when one is stored.
func (a *app) restoreVersions(ctx context.Context) {
	if a.store == nil {
		return
	}
	for _, s := range a.skills.All() {
		name := s.Descriptor().Name()
		v, err := a.store.LatestVersion(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			a.logger.Warn("failed to load latest version", zap.String("skill", name), zap.Error(err))
			continue
		}
		s.Descriptor().SetInstructions(v.Instructions)
		a.logger.Info("restored instructions", zap.String("skill", name), zap.Int("version", v.Version))
	}
}

func (a *app) skill(name string) (skill.Skill, error) {
	s := a.skills.Get(name)
	if s == nil {
		return nil, fmt.Errorf("skill %q not found in %s", name, a.cfg.SkillsDir)
	}
	return s, nil
}

// saveSkill writes s back to the directory and file it was loaded from, or to
// a new directory named after it under the skills dir.
func (a *app) saveSkill(s skill.Skill) error {
	name := s.Descriptor().Name()
	src, ok := a.sources[name]
	if !ok {
		src = skill.Source{Dir: filepath.Join(a.cfg.SkillsDir, name), File: skill.YAMLFile}
	}
	src.Skill = s
	if err := src.Save(); err != nil {
		return err
	}
	a.sources[name] = src
	a.logger.Info("skill saved", zap.String("dir", src.Dir), zap.String("file", src.File))
	return nil
}

func (a *app) close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	a.logger.Sync()
}
