package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fidlabs/provider-sample-url-finder/module"
	"github.com/fidlabs/provider-sample-url-finder/role/discovery"
	"github.com/fidlabs/provider-sample-url-finder/role/scheduler"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log2 "github.com/labstack/gommon/log"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	log3 "github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"github.com/ziflex/lecho/v3"
	"go.uber.org/dig"
	"golang.org/x/exp/slices"
)

const (
	createJobRoute      = "/job"
	getJobRoute         = "/job/:id"
	findURLRoute        = "/url/:provider"
	retrievabilityRoute = "/retrievability/:provider"
)

type findRequest struct {
	Provider *string `json:"provider"`
	Client   *string `json:"client"`
}

type jobResponse struct {
	ID         uuid.UUID           `json:"id"`
	Status     discovery.JobStatus `json:"status"`
	ResultCode module.ResultCode   `json:"result_code"`
	Message    string              `json:"message"`
}

type errorResponse struct {
	ErrorCode module.ErrorCode `json:"error_code"`
	Message   string           `json:"message"`
}

type resultResponse struct {
	*module.UrlResult
	Message string `json:"message"`
}

func postJobHandler(c echo.Context, disc *discovery.Discovery) error {
	var request findRequest

	err := c.Bind(&request)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	job, err := disc.Submit(c.Request().Context(), request.Provider, request.Client)

	switch {
	case errors.Is(err, discovery.ErrNoProviderOrClient):
		return c.JSON(http.StatusBadRequest, errorResponse{
			ErrorCode: module.NoProviderOrClient,
			Message:   err.Error(),
		})
	case errors.Is(err, discovery.ErrQueueFull):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, jobResponse{
		ID:         job.ID,
		Status:     job.Status,
		ResultCode: module.JobCreated,
		Message:    module.JobCreated.Message(),
	})
}

func getJobHandler(c echo.Context, jobs *discovery.JobStore) error {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}

	job, err := jobs.Get(c.Request().Context(), jobID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if job == nil {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}

	return c.JSON(http.StatusOK, job)
}

// findURLHandler runs discovery synchronously. Nothing is persisted;
// cancelling the request aborts the run.
func findURLHandler(c echo.Context, disc *discovery.Discovery) error {
	provider := c.Param("provider")

	var client *string
	if value := c.QueryParam("client"); value != "" {
		client = &value
	}

	result := disc.DirectFind(c.Request().Context(), provider, client)

	return c.JSON(http.StatusOK, resultResponse{
		UrlResult: result,
		Message:   result.ResultCode.Message(),
	})
}

func retrievabilityHandler(c echo.Context, jobs *discovery.JobStore) error {
	provider := c.Param("provider")
	if provider == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{
			ErrorCode: module.NoProviderOrClient,
			Message:   "provider is required",
		})
	}

	var client *string
	if value := c.QueryParam("client"); value != "" {
		client = &value
	}

	result, err := jobs.LatestResult(c.Request().Context(), provider, client)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if result == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no results for provider")
	}

	return c.JSON(http.StatusOK, resultResponse{
		UrlResult: result,
		Message:   result.ResultCode.Message(),
	})
}

// validBearerToken checks an Authorization header against the configured
// tokens. Headers shorter than the "Bearer " prefix are rejected, not
// sliced.
func validBearerToken(auth string, tokens []string) bool {
	return len(auth) >= 7 &&
		strings.ToLower(auth[:7]) == "bearer " &&
		slices.Contains(tokens, auth[7:])
}

func setupAPI(disc *discovery.Discovery, cfg *config) {
	api := echo.New()
	echoLogger := lecho.From(
		log3.Logger,
		lecho.WithLevel(log2.INFO),
		lecho.WithField("role", "http_api"),
		lecho.WithTimestamp(),
	)
	api.Logger = echoLogger
	api.Use(lecho.Middleware(lecho.Config{Logger: echoLogger}))
	api.Use(middleware.Recover())

	handleAuth := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(cfg.API.AuthenticationTokens) > 0 {
				auth := c.Request().Header.Get("Authorization")
				if !validBearerToken(auth, cfg.API.AuthenticationTokens) {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid auth token")
				}
			}
			return next(c)
		}
	}

	api.Use(handleAuth)

	jobs := disc.JobStore()

	api.POST(
		createJobRoute, func(c echo.Context) error {
			return postJobHandler(c, disc)
		},
	)

	api.GET(
		getJobRoute, func(c echo.Context) error {
			return getJobHandler(c, jobs)
		},
	)

	api.GET(
		findURLRoute, func(c echo.Context) error {
			return findURLHandler(c, disc)
		},
	)

	api.GET(
		retrievabilityRoute, func(c echo.Context) error {
			return retrievabilityHandler(c, jobs)
		},
	)

	go func() {
		err := api.Start(cfg.API.ListenAddr)
		if err != nil {
			log := log3.With().Str("role", "main").Caller().Logger()
			log.Fatal().Err(err).Msg("cannot start api")
			os.Exit(1)
		}
	}()
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container := dig.New()

	cfg, err := setupDependencies(ctx, container, configPath)
	if err != nil {
		return errors.Wrap(err, "cannot setup dependencies")
	}

	err = container.Invoke(
		func(disc *discovery.Discovery, sched *scheduler.Scheduler) {
			go disc.Start(ctx)

			if cfg.Scheduler.Enabled {
				sched.Start(ctx)
			}

			setupAPI(disc, cfg)
		},
	)
	if err != nil {
		return errors.Wrap(err, "cannot start services")
	}

	<-ctx.Done()
	log3.Info().Msg("shutting down")

	return nil
}

func main() {
	log3.Logger = log3.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var configPath string

	app := &cli.App{
		Name:  "url-finder",
		Usage: "discover and verify retrieval urls for filecoin storage providers",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "start the url finder service",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "config",
						Aliases:     []string{"c"},
						Usage:       "path to the config file",
						Value:       "./config.yaml",
						Destination: &configPath,
					},
				},
				Action: func(c *cli.Context) error {
					return run(configPath)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log3.Fatal().Err(err).Msg("")
		os.Exit(1)
	}
}
