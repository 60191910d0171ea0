package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"pawmatch.app/petsync"
	"pawmatch.app/petsync/docstore"
	"pawmatch.app/petsync/gateway"
)

const PetsyncCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Petsync control.

The default gateway url is ws://127.0.0.1:8688/sync.

Usage:
    petsyncctl serve [--listen=<listen>]
    petsyncctl mint-token --profile_id=<profile_id>
        [--display_name=<display_name>]
    petsyncctl register [--url=<url>] --jwt=<jwt>
        --display_name=<display_name>
    petsyncctl add-pet [--url=<url>] --jwt=<jwt>
        --name=<name> [--species=<species>]
    petsyncctl pets [--url=<url>] --jwt=<jwt> --owner=<owner>
    petsyncctl like [--url=<url>] --jwt=<jwt> --pet=<pet>
    petsyncctl send [--url=<url>] --jwt=<jwt> --to=<to> [<message>]
    petsyncctl threads [--url=<url>] --jwt=<jwt>
    petsyncctl watch [--url=<url>] --jwt=<jwt> --to=<to>

Options:
    -h --help                      Show this screen.
    --version                      Show version.
    --listen=<listen>              Gateway listen address [default: 127.0.0.1:8688].
    --url=<url>                    Gateway url.
    --jwt=<jwt>                    Your auth token.
    --profile_id=<profile_id>      Profile id to mint a token for.
    --display_name=<display_name>  Display name.
    --name=<name>                  Pet name.
    --species=<species>            Pet species.
    --owner=<owner>                Owner profile id.
    --pet=<pet>                    Pet id.
    --to=<to>                      Counterpart profile id.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], PetsyncCtlVersion)
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	} else if mintToken_, _ := opts.Bool("mint-token"); mintToken_ {
		mintToken(opts)
	} else if register_, _ := opts.Bool("register"); register_ {
		register(opts)
	} else if addPet_, _ := opts.Bool("add-pet"); addPet_ {
		addPet(opts)
	} else if pets_, _ := opts.Bool("pets"); pets_ {
		pets(opts)
	} else if like_, _ := opts.Bool("like"); like_ {
		like(opts)
	} else if send_, _ := opts.Bool("send"); send_ {
		send(opts)
	} else if threads_, _ := opts.Bool("threads"); threads_ {
		threads(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	}
}

func readSecret() []byte {
	if secret := os.Getenv("PETSYNC_SECRET"); secret != "" {
		return []byte(secret)
	}
	fmt.Fprint(os.Stderr, "gateway secret: ")
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		Err.Fatalf("read secret: %s", err)
	}
	return secret
}

func serve(opts docopt.Opts) {
	listen, _ := opts.String("--listen")
	secret := readSecret()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := docstore.NewMemoryStore()
	gw := gateway.NewGatewayWithDefaults(ctx, store, secret)
	defer gw.Close()

	mux := http.NewServeMux()
	mux.Handle("/sync", gw)
	server := &http.Server{
		Addr:    listen,
		Handler: mux,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		server.Close()
	}()

	Out.Printf("listening on %s", listen)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		Err.Fatalf("serve: %s", err)
	}
}

func mintToken(opts docopt.Opts) {
	profileId, _ := opts.String("--profile_id")
	displayName, _ := opts.String("--display_name")
	secret := readSecret()

	byJwt, err := petsync.MintByJwt(secret, &petsync.ByJwt{
		ProfileId:   profileId,
		DisplayName: displayName,
	})
	if err != nil {
		Err.Fatalf("mint: %s", err)
	}
	Out.Printf("%s", byJwt)
}

func newClient(opts docopt.Opts) (*petsync.Client, func()) {
	url, _ := opts.String("--url")
	if url == "" {
		url = "ws://127.0.0.1:8688/sync"
	}
	jwt, _ := opts.String("--jwt")

	identity, err := petsync.NewJwtIdentity(jwt)
	if err != nil {
		Err.Fatalf("bad jwt: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	store := gateway.NewRemoteStoreWithDefaults(ctx, url, jwt)
	// give the websocket a beat to come up before the first request
	time.Sleep(200 * time.Millisecond)

	client := petsync.NewClientWithDefaults(ctx, store, identity, petsync.NewLogNotifier())
	return client, func() {
		client.Close()
		store.Close()
		cancel()
	}
}

func register(opts docopt.Opts) {
	displayName, _ := opts.String("--display_name")
	client, stop := newClient(opts)
	defer stop()

	profile, err := client.UpsertProfile(context.Background(), displayName, nil, nil)
	if err != nil {
		Err.Fatalf("register: %s", err)
	}
	Out.Printf("registered %s as %q", profile.Id, profile.DisplayName)
}

func addPet(opts docopt.Opts) {
	name, _ := opts.String("--name")
	species, _ := opts.String("--species")
	client, stop := newClient(opts)
	defer stop()

	pet, err := client.CreatePet(context.Background(), name, species, nil, nil)
	if err != nil {
		Err.Fatalf("add-pet: %s", err)
	}
	Out.Printf("%s %q", pet.Id, pet.Name)
}

func pets(opts docopt.Opts) {
	owner, _ := opts.String("--owner")
	client, stop := newClient(opts)
	defer stop()

	ownerPets, err := client.Pets(context.Background(), owner)
	if err != nil {
		Err.Fatalf("pets: %s", err)
	}
	for _, pet := range ownerPets {
		Out.Printf("%s %q (%s)", pet.Id, pet.Name, pet.Species)
	}
}

func like(opts docopt.Opts) {
	petId, _ := opts.String("--pet")
	client, stop := newClient(opts)
	defer stop()

	match, err := client.Like(context.Background(), petId)
	if err != nil {
		Err.Fatalf("like: %s", err)
	}
	if match == nil {
		Out.Printf("liked")
	} else {
		Out.Printf("matched with %s", match.Other(client.ProfileId()))
	}
}

func send(opts docopt.Opts) {
	to, _ := opts.String("--to")
	message, _ := opts.String("<message>")
	client, stop := newClient(opts)
	defer stop()

	view, err := client.OpenThread(context.Background(), to)
	if err != nil {
		Err.Fatalf("open thread: %s", err)
	}
	defer view.Close()

	if err := view.Send(context.Background(), message); err != nil {
		Err.Fatalf("send: %s", err)
	}
	Out.Printf("sent")
}

func threads(opts docopt.Opts) {
	client, stop := newClient(opts)
	defer stop()

	merge, err := client.OpenThreadList()
	if err != nil {
		Err.Fatalf("open threads: %s", err)
	}
	defer merge.Close()

	// wait until both sides delivered their snapshot
	for !merge.Seeded() {
		select {
		case <-merge.UpdateChannel():
		case <-time.After(5 * time.Second):
			Err.Fatalf("thread list timeout")
		}
	}

	me := client.ProfileId()
	for _, thread := range merge.Current() {
		last := thread.LastMessageText
		if last == "" {
			last = "(no messages)"
		}
		Out.Printf("%s unread=%d %s", thread.Other(me), thread.UnreadFor(me), last)
	}
}

func watch(opts docopt.Opts) {
	to, _ := opts.String("--to")
	client, stop := newClient(opts)
	defer stop()

	view, err := client.OpenThread(context.Background(), to)
	if err != nil {
		Err.Fatalf("open thread: %s", err)
	}
	defer view.Close()

	unsub := view.AddListener(func(messages []petsync.Message) {
		lines := make([]string, 0, len(messages))
		for _, message := range messages {
			lines = append(lines, fmt.Sprintf(
				"%s %s: %s",
				message.CreateTime.Local().Format("15:04:05"),
				message.SenderId,
				message.Text,
			))
		}
		Out.Printf("---\n%s", strings.Join(lines, "\n"))
	})
	defer unsub()

	if err := view.MarkRead(context.Background()); err != nil {
		Err.Printf("mark read: %s", err)
	}

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	<-stopSignal
}
