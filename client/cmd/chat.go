package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/mahaj/groupchat/pkg/api"
	"github.com/mahaj/groupchat/pkg/chat"
	"github.com/mahaj/groupchat/pkg/codec"
)

const defaultGroup = "general"

var chatCmd = &cobra.Command{
	Use:   "chat [group]",
	Short: "Join a group and chat interactively",
	Long: `Join a group and chat interactively. Lines are sent as messages;
commands start with a slash:

  /typing          tell the group you are typing
  /upload <path>   send a file
  /reply <n>       send suggested reply n
  /switch <group>  leave this group and join another
  /quit            leave and exit`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	bodies, err := codec.New(cfg.Codec.Key)
	if err != nil {
		return err
	}

	sessClient, err := chat.Resume(ctx, chat.Options{}, store)
	if errors.Is(err, chat.ErrNoSession) {
		return errors.New("not logged in, run `groupchat login` first")
	}
	if err != nil {
		return err
	}
	sess := sessClient.Session()

	apiClient := api.New(cfg.Client.APIURL, &http.Client{Timeout: 15 * time.Second}).WithToken(sess.Token)
	out := cmd.OutOrStdout()
	r := newRenderer(out, sess.User.ID)

	client := chat.NewClient(chat.Options{
		GatewayURL:     cfg.Client.GatewayURL,
		Dialer:         chat.WSDialer{},
		Codec:          bodies,
		History:        apiClient,
		Signer:         apiClient,
		Suggester:      apiClient,
		TypingWindow:   cfg.Client.TypingWindow,
		MaxSuggestions: cfg.Client.MaxSuggestions,
		MediaParallel:  cfg.Client.MediaParallel,
		OnUpdate:       r.update,
	}, store, sess)
	defer client.Leave()

	group := sess.ActiveGroup
	if len(args) == 1 {
		group = args[0]
	}
	if group == "" {
		group = defaultGroup
	}
	if _, err := client.Enter(ctx, group); err != nil {
		return err
	}

	s := &chatSession{
		ctx:    ctx,
		out:    out,
		client: client,
		api:    apiClient,
		typing: rate.NewLimiter(rate.Every(cfg.Client.TypingWindow/2), 1),
	}
	return s.loop(cmd.InOrStdin())
}

type chatSession struct {
	ctx    context.Context
	out    io.Writer
	client *chat.Client
	api    *api.Client
	typing *rate.Limiter
}

func (s *chatSession) loop(in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := s.handle(strings.TrimSpace(line))
			if err != nil {
				fmt.Fprintf(s.out, "\r! %v\n%s", err, prompt)
			}
			if quit {
				return nil
			}
		}
	}
}

func (s *chatSession) handle(line string) (quit bool, err error) {
	view := s.client.Active()
	if view == nil {
		return true, errors.New("no active group")
	}
	if line == "" {
		fmt.Fprint(s.out, prompt)
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := view.Send(chat.Outgoing{Text: line})
		return false, err
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit":
		return true, nil
	case "/typing":
		if !s.typing.Allow() {
			return false, nil
		}
		return false, view.Typing()
	case "/reply":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return false, errors.New("usage: /reply <n>")
		}
		_, err = view.Reply(n - 1)
		return false, err
	case "/switch":
		if arg == "" {
			return false, errors.New("usage: /switch <group>")
		}
		_, err := s.client.Enter(s.ctx, arg)
		return false, err
	case "/upload":
		if arg == "" {
			return false, errors.New("usage: /upload <path>")
		}
		return false, s.upload(view, arg)
	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
}

func (s *chatSession) upload(view *chat.View, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		contentType = http.DetectContentType(head[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
	}

	ref, err := s.api.Upload(s.ctx, contentType, f)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	_, err = view.Send(chat.Outgoing{
		Text:      filepath.Base(path),
		MediaRef:  ref,
		MediaKind: mediaKindFor(contentType),
	})
	return err
}
