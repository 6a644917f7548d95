package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
	"github.com/pgcdha001/pgcdha-sub002/service"
	"github.com/pgcdha001/pgcdha-sub002/types"
	"github.com/pgcdha001/pgcdha-sub002/utils"
)

func main() {
	app := &cli.App{
		Name:  "principal-analytics",
		Usage: "Enquiry and correspondence statistics for the principal dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config; built-in defaults when empty",
				EnvVars: []string{"PRINCIPAL_ANALYTICS_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"start"},
				Usage:   "Start the HTTP API",
				Action:  serve,
			},
			{
				Name:  "view",
				Usage: "Print the enquiry view for one filter",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "level", Value: "all"},
					&cli.StringFlag{Name: "bucket", Value: string(analytics.BucketAll)},
					&cli.StringFlag{Name: "gender"},
				},
				Action: view,
			},
			{
				Name:  "custom",
				Usage: "Print enquiry counts for a custom date range",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "start", Required: true, Usage: "YYYY-MM-DD"},
					&cli.StringFlag{Name: "end", Required: true, Usage: "YYYY-MM-DD"},
					&cli.StringFlag{Name: "level", Value: "all"},
				},
				Action: custom,
			},
			{
				Name:  "monthly",
				Usage: "Print the twelve-month enquiry breakdown",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "year", Value: time.Now().Year()},
					&cli.StringFlag{Name: "level", Value: "all"},
				},
				Action: monthly,
			},
			{
				Name:  "correspondence",
				Usage: "Print the correspondence view for one filter",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "level", Value: "all"},
					&cli.StringFlag{Name: "bucket", Value: string(analytics.BucketAll)},
					&cli.StringFlag{Name: "type"},
					&cli.StringFlag{Name: "search"},
				},
				Action: correspondence,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(c *cli.Context) error {
	svc, err := service.NewService(c.Context, c.String("config"))
	if err != nil {
		return err
	}
	return svc.Start()
}

// withService builds the service without serving, for one-shot commands.
func withService(c *cli.Context, fn func(ctx context.Context, svc *service.Service) (interface{}, error)) error {
	svc, err := service.NewService(c.Context, c.String("config"))
	if err != nil {
		return err
	}
	defer svc.Close()

	result, err := fn(c.Context, svc)
	if err != nil {
		return fmt.Errorf("error while executing command %s : %w", c.Command.Name, err)
	}

	data, err := utils.Marshal(result)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func view(c *cli.Context) error {
	return withService(c, func(ctx context.Context, svc *service.Service) (interface{}, error) {
		filter, err := cliFilter(c)
		if err != nil {
			return nil, err
		}

		if res := svc.Enquiries().Load(ctx, false); res.Err != nil {
			return nil, res.Err
		}
		return svc.Enquiries().GetView(filter)
	})
}

func custom(c *cli.Context) error {
	return withService(c, func(ctx context.Context, svc *service.Service) (interface{}, error) {
		rng, err := analytics.ParseCustomRange(c.String("start"), c.String("end"))
		if err != nil {
			return nil, err
		}
		level, err := analytics.ParseLevel(c.String("level"))
		if err != nil {
			return nil, err
		}

		// A loaded snapshot lets the estimate fallback work when the
		// backend has no exact figures for the range.
		svc.Enquiries().Load(ctx, false)
		return svc.Enquiries().GetCustomView(ctx, rng, level)
	})
}

func monthly(c *cli.Context) error {
	return withService(c, func(ctx context.Context, svc *service.Service) (interface{}, error) {
		level, err := analytics.ParseLevel(c.String("level"))
		if err != nil {
			return nil, err
		}

		year := c.Int("year")
		if year == time.Now().Year() {
			svc.Enquiries().Load(ctx, false)
		}
		return svc.Enquiries().MonthlyBreakdown(ctx, year, level)
	})
}

func correspondence(c *cli.Context) error {
	return withService(c, func(ctx context.Context, svc *service.Service) (interface{}, error) {
		engine := svc.Correspondence()
		if engine == nil {
			return nil, types.NewErrorf("correspondence engine is disabled in config")
		}

		filter, err := cliFilter(c)
		if err != nil {
			return nil, err
		}

		if res := engine.Load(ctx, false); res.Err != nil {
			return nil, res.Err
		}
		return engine.GetView(filter)
	})
}

func cliFilter(c *cli.Context) (analytics.FilterSpec, error) {
	level, err := analytics.ParseLevel(c.String("level"))
	if err != nil {
		return analytics.FilterSpec{}, err
	}
	gender, err := analytics.ParseGender(c.String("gender"))
	if err != nil {
		return analytics.FilterSpec{}, err
	}

	filter := analytics.FilterSpec{
		Level:      level,
		DateBucket: analytics.Bucket(c.String("bucket")),
		Gender:     gender,
		Type:       c.String("type"),
		SearchTerm: c.String("search"),
	}.Normalize()

	return filter, filter.Validate()
}
