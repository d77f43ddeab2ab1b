package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/goccy/go-json"
	"golang.org/x/term"

	"github.com/bringyour/sharedoc/client"
	"github.com/bringyour/sharedoc/ot"
)

const SharedocCtlVersion = "0.0.1"

var ErrTimeout = errors.New("Timeout.")

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Shared document control.

Settings are read from ~/.sharedoc/config.toml unless --config is given.
Options on the command line override the file.

Usage:
    sharedocctl config [options]
    sharedocctl client-id [options]
    sharedocctl cat [options] <collection> <doc>
    sharedocctl follow [options] <collection> <doc> [--op_count=<op_count>]
    sharedocctl create [options] <collection> [<doc>] [--type=<type>] [--data=<data>]
    sharedocctl insert [options] <collection> <doc> <pos> <text>
    sharedocctl remove [options] <collection> <doc> <pos> <length>
    sharedocctl set [options] <collection> <doc> <path> <value>
    sharedocctl edit [options] <collection> <doc>

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --config=<config>          Config file.
    --url=<url>                Server websocket url.
    --jwt=<jwt>                Your JWT.
    --timeout=<seconds>        Seconds to wait for the server.
    --binary                   Use binary frames.
    -v --verbose               Log connection activity to stderr.
    --op_count=<op_count>      Print this many remote ops then exit.
    --type=<type>              Document type name or uri [default: text].
    --data=<data>              Initial data. Json for json types.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], SharedocCtlVersion)
	if err != nil {
		panic(err)
	}

	if verbose, _ := opts.Bool("--verbose"); verbose {
		flag.Set("logtostderr", "true")
		flag.Set("v", "2")
	}

	if config_, _ := opts.Bool("config"); config_ {
		err = saveConfig(opts)
	} else if clientId_, _ := opts.Bool("client-id"); clientId_ {
		err = clientId(opts)
	} else if cat_, _ := opts.Bool("cat"); cat_ {
		err = cat(opts)
	} else if follow_, _ := opts.Bool("follow"); follow_ {
		err = follow(opts)
	} else if create_, _ := opts.Bool("create"); create_ {
		err = create(opts)
	} else if insert_, _ := opts.Bool("insert"); insert_ {
		err = insert(opts)
	} else if remove_, _ := opts.Bool("remove"); remove_ {
		err = remove(opts)
	} else if set_, _ := opts.Bool("set"); set_ {
		err = set(opts)
	} else if edit_, _ := opts.Bool("edit"); edit_ {
		err = edit(opts)
	}

	if err != nil {
		Err.Printf("%s", err)
		os.Exit(1)
	}
}

func configPath(opts docopt.Opts) (string, error) {
	if path, err := opts.String("--config"); err == nil {
		return path, nil
	}
	return DefaultConfigPath()
}

// the config file with command line overrides
func loadConfig(opts docopt.Opts) (*Config, error) {
	path, err := configPath(opts)
	if err != nil {
		return nil, err
	}
	config, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if url, err := opts.String("--url"); err == nil {
		config.Url = url
	}
	if jwt, err := opts.String("--jwt"); err == nil {
		config.Jwt = jwt
	}
	if timeoutSeconds, err := opts.Int("--timeout"); err == nil {
		config.TimeoutSeconds = timeoutSeconds
	}
	if binary, _ := opts.Bool("--binary"); binary {
		config.BinaryFrames = true
	}
	return config, nil
}

func saveConfig(opts docopt.Opts) error {
	path, err := configPath(opts)
	if err != nil {
		return err
	}
	config, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := SaveConfig(path, config); err != nil {
		return err
	}
	Out.Printf("Saved %s", path)
	return nil
}

func clientId(opts docopt.Opts) error {
	config, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if config.Jwt == "" {
		return errors.New("Missing jwt.")
	}
	byJwt, err := client.ParseByJwtUnverified(config.Jwt)
	if err != nil {
		return err
	}
	Out.Printf("user_id: %s", byJwt.UserId)
	Out.Printf("client_id: %s", byJwt.ClientId)
	if byJwt.Name != "" {
		Out.Printf("name: %s", byJwt.Name)
	}
	if 0 < len(byJwt.Collections) {
		Out.Printf("collections: %s", strings.Join(byJwt.Collections, ", "))
	}
	return nil
}

// session is one connection on a websocket transport.
// Everything touching the connection runs on the transport loop.
type session struct {
	ctx        context.Context
	cancel     context.CancelFunc
	config     *Config
	transport  *client.WebSocketTransport
	connection *client.Connection
}

func openSession(opts docopt.Opts) (*session, error) {
	config, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	auth := &client.ClientAuth{
		ByJwt:      config.Jwt,
		InstanceId: client.NewId(),
		AppVersion: fmt.Sprintf("sharedocctl %s", SharedocCtlVersion),
	}
	transportSettings := client.DefaultWebSocketTransportSettings()
	transportSettings.BinaryFrames = config.BinaryFrames
	transport := client.NewWebSocketTransport(ctx, config.Url, auth, transportSettings)

	connectionSettings := client.DefaultConnectionSettings()
	if config.BinaryFrames {
		connectionSettings.Codec = client.NewProtoFrameCodec()
	}

	var connection *client.Connection
	ok := transport.DoSync(func() {
		connection = client.NewConnection(transport, transport, nil, connectionSettings)
		connection.OnConnectionError(func(err error) {
			Err.Printf("Connection error (%s).", err)
		})
		connection.OnError(func(err error) {
			Err.Printf("%s", err)
		})
	})
	if !ok {
		transport.Close()
		cancel()
		return nil, errors.New("Transport closed.")
	}

	return &session{
		ctx:        ctx,
		cancel:     cancel,
		config:     config,
		transport:  transport,
		connection: connection,
	}, nil
}

func (self *session) Close() {
	self.transport.DoSync(func() {
		self.connection.Close()
	})
	self.transport.Close()
	self.cancel()
}

// await runs `f` on the transport loop and waits for the first `done`
func (self *session) await(f func(done client.OpCallback)) error {
	result := make(chan error, 1)
	done := func(err error) {
		select {
		case result <- err:
		default:
		}
	}
	if !self.transport.Do(func() { f(done) }) {
		return errors.New("Transport closed.")
	}
	select {
	case err := <-result:
		return err
	case <-self.ctx.Done():
		return self.ctx.Err()
	case <-time.After(self.config.Timeout()):
		return ErrTimeout
	}
}

func (self *session) doc(opts docopt.Opts) *client.Doc {
	collection, _ := opts.String("<collection>")
	name, _ := opts.String("<doc>")
	var doc *client.Doc
	self.transport.DoSync(func() {
		doc = self.connection.Get(collection, name)
	})
	return doc
}

func formatSnapshot(snapshot any) string {
	switch v := snapshot.(type) {
	case string:
		return v
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func printDoc(doc *client.Doc) {
	if doc.Type() == nil {
		Out.Printf("%s does not exist.", doc)
		return
	}
	version, _ := doc.Version()
	Err.Printf("%s v%d %s", doc, version, doc.Type().Name())
	Out.Printf("%s", formatSnapshot(doc.Snapshot()))
}

func cat(opts docopt.Opts) error {
	session, err := openSession(opts)
	if err != nil {
		return err
	}
	defer session.Close()

	doc := session.doc(opts)
	if err := session.await(doc.Fetch); err != nil {
		return err
	}
	session.transport.DoSync(func() {
		printDoc(doc)
	})
	return nil
}

func follow(opts docopt.Opts) error {
	opCount := -1
	if opCount_, err := opts.Int("--op_count"); err == nil {
		opCount = opCount_
	}

	session, err := openSession(opts)
	if err != nil {
		return err
	}
	defer session.Close()

	doc := session.doc(opts)
	if err := session.await(doc.Subscribe); err != nil {
		return err
	}

	done := make(chan struct{})
	session.transport.DoSync(func() {
		printDoc(doc)
		if opCount == 0 {
			close(done)
			return
		}
		doc.OnOp(func(op any, local bool) {
			if local || opCount == 0 {
				return
			}
			data, err := json.Marshal(op)
			if err != nil {
				Err.Printf("%s", err)
				return
			}
			version, _ := doc.Version()
			Out.Printf("v%d %s", version, data)
			if 0 < opCount {
				opCount -= 1
				if opCount == 0 {
					close(done)
				}
			}
		})
		doc.OnDel(func(local bool, previous any) {
			Out.Printf("%s deleted.", doc)
		})
	})

	select {
	case <-done:
	case <-session.ctx.Done():
	}
	return nil
}

func create(opts docopt.Opts) error {
	typeName, _ := opts.String("--type")
	var data any
	if dataStr, err := opts.String("--data"); err == nil {
		if typeName == ot.TextTypeName || typeName == ot.TextTypeUri {
			data = dataStr
		} else if err := json.Unmarshal([]byte(dataStr), &data); err != nil {
			return fmt.Errorf("Invalid data (%s).", err)
		}
	}

	if _, err := opts.String("<doc>"); err != nil {
		opts["<doc>"] = client.NewId().String()
	}

	session, err := openSession(opts)
	if err != nil {
		return err
	}
	defer session.Close()

	doc := session.doc(opts)
	err = session.await(func(done client.OpCallback) {
		if err := doc.Create(typeName, data, done); err != nil {
			done(err)
		}
	})
	if err != nil {
		return err
	}
	Out.Printf("%s", doc.Name())
	return nil
}

// subscribes and waits for `edit` to be acknowledged
func submitEdit(opts docopt.Opts, edit func(doc *client.Doc, done client.OpCallback) error) error {
	session, err := openSession(opts)
	if err != nil {
		return err
	}
	defer session.Close()

	doc := session.doc(opts)
	if err := session.await(doc.Subscribe); err != nil {
		return err
	}
	err = session.await(func(done client.OpCallback) {
		if err := edit(doc, done); err != nil {
			done(err)
		}
	})
	if err != nil {
		return err
	}
	session.transport.DoSync(func() {
		version, _ := doc.Version()
		Err.Printf("%s v%d", doc, version)
	})
	return nil
}

func insert(opts docopt.Opts) error {
	pos, err := opts.Int("<pos>")
	if err != nil {
		return err
	}
	text, _ := opts.String("<text>")

	return submitEdit(opts, func(doc *client.Doc, done client.OpCallback) error {
		textContext, err := doc.CreateTextContext()
		if err != nil {
			return err
		}
		defer textContext.Destroy()
		return textContext.Insert(pos, text, done)
	})
}

func remove(opts docopt.Opts) error {
	pos, err := opts.Int("<pos>")
	if err != nil {
		return err
	}
	length, err := opts.Int("<length>")
	if err != nil {
		return err
	}

	return submitEdit(opts, func(doc *client.Doc, done client.OpCallback) error {
		textContext, err := doc.CreateTextContext()
		if err != nil {
			return err
		}
		defer textContext.Destroy()
		return textContext.Remove(pos, length, done)
	})
}

func set(opts docopt.Opts) error {
	pathStr, _ := opts.String("<path>")
	path, err := ot.ParsePath(pathStr)
	if err != nil {
		return err
	}
	valueStr, _ := opts.String("<value>")
	var value any
	if err := json.Unmarshal([]byte(valueStr), &value); err != nil {
		return fmt.Errorf("Invalid value (%s).", err)
	}

	return submitEdit(opts, func(doc *client.Doc, done client.OpCallback) error {
		jsonContext, err := doc.CreateJsonContext()
		if err != nil {
			return err
		}
		defer jsonContext.Destroy()
		return jsonContext.Set(path, value, done)
	})
}

// edit appends each input line to a text document and prints remote edits
func edit(opts docopt.Opts) error {
	session, err := openSession(opts)
	if err != nil {
		return err
	}
	defer session.Close()

	doc := session.doc(opts)
	if err := session.await(doc.Subscribe); err != nil {
		return err
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	prompt := func() {
		if interactive {
			fmt.Fprint(os.Stdout, "> ")
		}
	}

	var textContext *client.TextContext
	session.transport.DoSync(func() {
		printDoc(doc)
		textContext, err = doc.CreateTextContext()
		if err != nil {
			return
		}
		textContext.OnInsert(func(pos int, text string) {
			Out.Printf("+%d %q", pos, text)
		})
		textContext.OnRemove(func(pos int, length int) {
			Out.Printf("-%d %d", pos, length)
		})
	})
	if err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-session.ctx.Done():
				return
			}
		}
	}()

	prompt()
	for {
		select {
		case <-session.ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || line == ".quit" {
				// flush outstanding edits before closing
				return session.await(func(done client.OpCallback) {
					doc.WhenNothingPending(func() {
						done(nil)
					})
				})
			}
			session.transport.Do(func() {
				err := textContext.Insert(textContext.Length(), line+"\n", func(err error) {
					if err != nil {
						Err.Printf("Edit not acked (%s).", err)
					}
				})
				if err != nil {
					Err.Printf("%s", err)
				}
			})
			prompt()
		}
	}
}
