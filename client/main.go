package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/mahaj/guildchat/pkg/logging"
	"github.com/mahaj/guildchat/pkg/model"
	"github.com/mahaj/guildchat/pkg/syncview"
)

type flags struct {
	api          string
	ws           string
	profile      string
	name         string
	channel      string
	conversation string
	logLevel     string
}

func (f *flags) room() (model.Room, error) {
	switch {
	case f.channel != "" && f.conversation != "":
		return model.Room{}, errors.New("pass either --channel or --conversation, not both")
	case f.conversation != "":
		return model.ConversationRoom(f.conversation), nil
	case f.channel != "":
		return model.ChannelRoom(f.channel), nil
	}
	return model.Room{}, errors.New("--channel or --conversation is required")
}

func main() {
	f := &flags{}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "chat",
		Usage: "Terminal client for guildchat rooms",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api", Value: "http://localhost:8081", Usage: "API base URL", Sources: cli.EnvVars("CHAT_API"), Destination: &f.api},
			&cli.StringFlag{Name: "ws", Value: "ws://localhost:8080/ws", Usage: "websocket endpoint", Sources: cli.EnvVars("CHAT_WS"), Destination: &f.ws},
			&cli.StringFlag{Name: "profile", Aliases: []string{"p"}, Value: "user1", Usage: "profile id to log in as", Destination: &f.profile},
			&cli.StringFlag{Name: "name", Usage: "display name", Destination: &f.name},
			&cli.StringFlag{Name: "channel", Usage: "channel id", Destination: &f.channel},
			&cli.StringFlag{Name: "conversation", Usage: "conversation id (overrides --channel)", Destination: &f.conversation},
			&cli.StringFlag{Name: "log-level", Value: "warn", Sources: cli.EnvVars("LOG_LEVEL"), Destination: &f.logLevel},
		},
		Commands: []*cli.Command{
			{
				Name:   "watch",
				Usage:  "Follow a room live; type to send, /more loads older messages",
				Action: func(ctx context.Context, _ *cli.Command) error { return watch(ctx, f) },
			},
			{
				Name:      "send",
				Usage:     "Send one message",
				ArgsUsage: "<message>",
				Action: func(ctx context.Context, c *cli.Command) error {
					return send(ctx, f, strings.Join(c.Args().Slice(), " "))
				},
			},
			{
				Name:   "history",
				Usage:  "Print the full history of a room, oldest first",
				Action: func(ctx context.Context, _ *cli.Command) error { return history(ctx, f) },
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (f *flags) adapter(ctx context.Context) (*apiClient, *syncview.Adapter, error) {
	room, err := f.room()
	if err != nil {
		return nil, nil, err
	}
	api, err := login(ctx, f.api, f.profile, f.name)
	if err != nil {
		return nil, nil, err
	}
	log := logging.NewWithWriter(os.Stderr, "development", f.logLevel, "client")
	a := syncview.New(room,
		&syncview.HTTPFetcher{BaseURL: f.api, Token: api.token},
		&syncview.WSSource{URL: f.ws, Token: api.token},
		log, syncview.DefaultOptions())
	return api, a, nil
}

func watch(ctx context.Context, f *flags) error {
	api, a, err := f.adapter(ctx)
	if err != nil {
		return err
	}
	room, _ := f.room()
	if err := a.Load(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	p := newPrinter(os.Stdout)
	p.show(a.Snapshot())
	state := a.State()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			return err
		case <-a.Changes():
			p.show(a.Snapshot())
			if s := a.State(); s != state {
				state = s
				fmt.Fprintf(os.Stderr, "-- %s\n", s)
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch line = strings.TrimSpace(line); {
			case line == "":
			case line == "/more":
				n, err := a.LoadMore(ctx)
				if err != nil {
					fmt.Fprintln(os.Stderr, "load more:", err)
					continue
				}
				fmt.Fprintf(os.Stderr, "-- %d older messages\n", n)
				p.showAll(a.Snapshot())
			default:
				if _, err := api.send(ctx, room, line); err != nil {
					fmt.Fprintln(os.Stderr, "send:", err)
				}
			}
		}
	}
}

func send(ctx context.Context, f *flags, content string) error {
	room, err := f.room()
	if err != nil {
		return err
	}
	api, err := login(ctx, f.api, f.profile, f.name)
	if err != nil {
		return err
	}
	msg, err := api.send(ctx, room, content)
	if err != nil {
		return err
	}
	fmt.Println(msg.ID)
	return nil
}

func history(ctx context.Context, f *flags) error {
	_, a, err := f.adapter(ctx)
	if err != nil {
		return err
	}
	for a.HasMore() {
		if _, err := a.LoadMore(ctx); err != nil {
			return err
		}
	}
	newPrinter(os.Stdout).showAll(a.Snapshot())
	return nil
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// printer writes each message version once, oldest first.
type printer struct {
	w    io.Writer
	seen map[model.MessageID]time.Time
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, seen: make(map[model.MessageID]time.Time)}
}

func (p *printer) show(v syncview.View) {
	items := v.Items()
	for i := len(items) - 1; i >= 0; i-- {
		m := items[i]
		if prev, ok := p.seen[m.ID]; ok && !m.UpdatedAt.After(prev) {
			continue
		}
		p.seen[m.ID] = m.UpdatedAt
		p.line(m)
	}
}

func (p *printer) showAll(v syncview.View) {
	p.seen = make(map[model.MessageID]time.Time)
	p.show(v)
}

func (p *printer) line(m model.Message) {
	marker := ""
	if m.UpdatedAt.After(m.CreatedAt) && !m.Deleted {
		marker = " (edited)"
	}
	fmt.Fprintf(p.w, "[%s] %s: %s%s\n", m.CreatedAt.Local().Format("15:04:05"), m.MemberID, m.Content, marker)
}
