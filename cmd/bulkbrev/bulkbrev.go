package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/modfin/bulkbrev"
	"github.com/modfin/bulkbrev/internal/clix"
	"github.com/modfin/bulkbrev/tools"
	"github.com/modfin/henry/slicez"
	"github.com/urfave/cli/v2"
)

type messageOpts struct {
	From     string `cli:"from"`
	Subject  string `cli:"subject"`
	HTML     string `cli:"html"`
	HTMLFile string `cli:"html-file"`
}

type sendOpts struct {
	Host    string `cli:"host"`
	Message messageOpts
	To      []string      `cli:"to"`
	ToFile  string        `cli:"to-file"`
	Wait    bool          `cli:"wait"`
	Poll    time.Duration `cli:"poll"`
}

type sendOneOpts struct {
	Host    string `cli:"host"`
	Message messageOpts
	To      string `cli:"to"`
}

type statusOpts struct {
	Host string        `cli:"host"`
	Id   string        `cli:"id"`
	Wait time.Duration `cli:"wait"`
}

var messageFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "from",
		Usage: "Set from email, 'email' or 'name <email>' is valid, defaults to user@hostname",
	},
	&cli.StringFlag{
		Name:     "subject",
		Usage:    "Set subject line",
		Required: true,
	},
	&cli.StringFlag{
		Name:  "html",
		Usage: "html content of the mail",
	},
	&cli.StringFlag{
		Name:  "html-file",
		Usage: "path to a file with the html content of the mail, - reads stdin",
	},
}

func main() {
	app := &cli.App{
		Name:  "bulkbrev",
		Usage: "a cli for the bulk email api",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Usage:   "base url of the bulk email api",
				Value:   "http://localhost:3000",
				EnvVars: []string{"BULKBREV_HOST"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "send",
				Usage: "submit a bulk job, one message to many recipients",
				Flags: append([]cli.Flag{
					&cli.StringSliceFlag{
						Name:  "to",
						Usage: "recipient email, may be repeated",
					},
					&cli.StringFlag{
						Name:  "to-file",
						Usage: "path to a file with one recipient per line",
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "wait for the job to finish while printing progress",
					},
					&cli.DurationFlag{
						Name:  "poll",
						Usage: "how long each status request may be held by the server while waiting",
						Value: 10 * time.Second,
					},
				}, messageFlags...),
				Action: send,
			},
			{
				Name:  "send-one",
				Usage: "send one email synchronously",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "to",
						Usage:    "recipient email",
						Required: true,
					},
				}, messageFlags...),
				Action: sendOne,
			},
			{
				Name:  "status",
				Usage: "print the status of a bulk job",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "the request id returned when the job was submitted",
						Required: true,
					},
					&cli.DurationFlag{
						Name:  "wait",
						Usage: "let the server hold the request until the job is done, at most 60s",
					},
				},
				Action: status,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "got err", err)
		os.Exit(1)
	}
}

func (o messageOpts) content(stdin io.Reader) (from string, html string, err error) {
	from = o.From
	if len(from) == 0 {
		from, err = tools.SystemUri()
		if err != nil {
			return "", "", err
		}
	}

	html = o.HTML
	switch {
	case o.HTMLFile == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", "", err
		}
		html = string(b)
	case o.HTMLFile != "":
		b, err := os.ReadFile(o.HTMLFile)
		if err != nil {
			return "", "", err
		}
		html = string(b)
	}
	if strings.TrimSpace(html) == "" {
		return "", "", errors.New("no content, use --html or --html-file")
	}
	return from, html, nil
}

// readRecipients reads one address per line, blank lines and lines starting with # are skipped
func readRecipients(r io.Reader) ([]string, error) {
	var rcpts []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rcpts = append(rcpts, line)
	}
	return rcpts, scanner.Err()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func send(c *cli.Context) error {
	opts, err := clix.Parse[sendOpts](c)
	if err != nil {
		return err
	}
	from, html, err := opts.Message.content(os.Stdin)
	if err != nil {
		return err
	}

	to := opts.To
	if opts.ToFile != "" {
		f, err := os.Open(opts.ToFile)
		if err != nil {
			return err
		}
		fromFile, err := readRecipients(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("could not read %s: %w", opts.ToFile, err)
		}
		to = slicez.Concat(to, fromFile)
	}

	client := bulkbrev.NewClient(opts.Host)
	receipt, err := client.SendBulk(c.Context, bulkbrev.BulkRequest{
		Sender:    from,
		Subject:   opts.Message.Subject,
		Body:      html,
		Receivers: to,
	})
	if err != nil {
		return err
	}
	if !opts.Wait {
		return printJSON(receipt)
	}

	job, err := await(c.Context, client, receipt.RequestId, opts.Poll)
	if err != nil {
		return err
	}
	err = printJSON(job)
	if err != nil {
		return err
	}
	if job.Status == bulkbrev.JobError {
		return fmt.Errorf("job %s failed: %s", job.Id, job.Error)
	}
	return nil
}

func await(ctx context.Context, client *bulkbrev.Client, id string, poll time.Duration) (bulkbrev.Job, error) {
	last := -1
	for {
		job, err := client.Status(ctx, id, poll)
		if err != nil {
			return bulkbrev.Job{}, err
		}
		if job.Processed != last {
			last = job.Processed
			_, _ = fmt.Fprintf(os.Stderr, "%s: %d/%d processed, %d sent, %d failed\n", job.Id, job.Processed, job.Total, job.Successful, job.Failed)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func sendOne(c *cli.Context) error {
	opts, err := clix.Parse[sendOneOpts](c)
	if err != nil {
		return err
	}
	from, html, err := opts.Message.content(os.Stdin)
	if err != nil {
		return err
	}

	receipt, err := bulkbrev.NewClient(opts.Host).Send(c.Context, bulkbrev.SingleRequest{
		Sender:   from,
		Receiver: opts.To,
		Subject:  opts.Message.Subject,
		Body:     html,
	})
	if err != nil {
		return err
	}
	return printJSON(receipt)
}

func status(c *cli.Context) error {
	opts, err := clix.Parse[statusOpts](c)
	if err != nil {
		return err
	}
	job, err := bulkbrev.NewClient(opts.Host).Status(c.Context, opts.Id, opts.Wait)
	if err != nil {
		return err
	}
	return printJSON(job)
}
