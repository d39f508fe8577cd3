package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/tendant/simple-derivative/internal/logging"
	"github.com/tendant/simple-derivative/pkg/derivative"
	"github.com/tendant/simple-derivative/pkg/derivative/config"
)

const usage = `Simple Derivative Admin CLI

Dispatches derivative jobs and events against the configured repository and
broker without going through the HTTP API.

USAGE:
  admin <command> [options]

COMMANDS:
  actions    List configured derivative actions
  generate   Dispatch one derivative action for a media
  emit       Emit an event about an existing entity
  broker     Validate the configured broker settings

ENVIRONMENT VARIABLES:
  CONFIG_FILE       YAML configuration file (optional)
  DATABASE_URL      PostgreSQL connection string (required for postgres)
  DATABASE_TYPE     Database type: postgres or memory (default: memory)
  BROKER_URL        Broker URL, e.g. tcp://activemq:61613 or kafka://kafka:9092

  Configuration can be loaded from a .env file in the current directory.
  Command line environment variables override .env file values.

EXAMPLES:
  # List actions
  admin actions

  # Generate a thumbnail
  admin generate --action=image_thumbnail --media-id=550e8400-e29b-41d4-a716-446655440000

  # Re-index a node
  admin emit --kind=node --id=550e8400-e29b-41d4-a716-446655440000 --event=update --queue=islandora-indexing-fcrepo-content

  # Check broker connectivity
  admin broker

OPTIONS:
  --action=<id>       Action id (generate)
  --media-id=<uuid>   Media to derive from (generate)
  --kind=<kind>       Entity kind: node, media, file or user (emit)
  --id=<uuid>         Entity id (emit)
  --event=<name>      Event name: create, update or delete (emit)
  --queue=<name>      Destination queue (emit)
  --user-id=<uuid>    Acting user (default: system user)
  --json              Output as JSON
`

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	command := os.Args[1]
	if command == "help" || command == "--help" || command == "-h" {
		fmt.Print(usage)
		os.Exit(0)
	}

	cfg, err := config.Load(config.WithFile(os.Getenv("CONFIG_FILE")), config.WithEnv())
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.New(logging.Config{Environment: cfg.Environment, Level: cfg.LogLevel})
	slog.SetDefault(logger)

	ctx := context.Background()
	comps, err := cfg.Build(ctx, logger)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer comps.Close()

	opts, useJSON := parseOptions(os.Args[2:])

	switch command {
	case "actions":
		handleActions(comps.Service, useJSON)
	case "generate":
		err = handleGenerate(ctx, comps.Service, opts, useJSON)
	case "emit":
		err = handleEmit(ctx, comps.Service, opts, useJSON)
	case "broker":
		err = handleBroker(ctx, comps.Service, cfg.Broker.Settings())
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage)
		os.Exit(1)
	}
	if err != nil {
		comps.Close()
		log.Fatalf("%s failed: %v", command, err)
	}
}

func parseOptions(args []string) (map[string]string, bool) {
	opts := make(map[string]string)
	useJSON := false
	for _, arg := range args {
		if arg == "--json" {
			useJSON = true
			continue
		}
		if key, value := parseFlag(arg); key != "" {
			opts[key] = value
		}
	}
	return opts, useJSON
}

func parseFlag(arg string) (string, string) {
	if len(arg) > 2 && arg[:2] == "--" {
		arg = arg[2:]
		for i, c := range arg {
			if c == '=' {
				return arg[:i], arg[i+1:]
			}
		}
		return arg, "true"
	}
	return "", ""
}

func parseID(opts map[string]string, key string, required bool) (uuid.UUID, error) {
	v, ok := opts[key]
	if !ok {
		if required {
			return uuid.Nil, fmt.Errorf("--%s is required", key)
		}
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--%s: %w", key, err)
	}
	return id, nil
}

func handleActions(svc derivative.Service, useJSON bool) {
	actions := svc.Actions()
	if useJSON {
		printJSON(actions)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tTYPE\tQUEUE\tSOURCE\tDESTINATION\tMIMETYPE\n")
	for _, a := range actions {
		dest := a.DestinationField
		if a.DestinationTextField != "" {
			dest += "+" + a.DestinationTextField
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Type, a.Queue, a.SourceField, dest, a.Mimetype)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d\n", len(actions))
}

func handleGenerate(ctx context.Context, svc derivative.Service, opts map[string]string, useJSON bool) error {
	if opts["action"] == "" {
		return fmt.Errorf("--action is required")
	}
	mediaID, err := parseID(opts, "media-id", true)
	if err != nil {
		return err
	}
	userID, err := parseID(opts, "user-id", false)
	if err != nil {
		return err
	}

	job, err := svc.GenerateDerivative(ctx, derivative.GenerateDerivativeRequest{
		MediaID:  mediaID,
		UserID:   userID,
		ActionID: opts["action"],
	})
	if err != nil {
		return err
	}

	if useJSON {
		printJSON(job)
		return nil
	}
	fmt.Printf("Dispatched to %s\n", job.Queue)
	fmt.Printf("  Source:      %s\n", job.SourceURI)
	fmt.Printf("  Destination: %s\n", job.DestinationURI)
	fmt.Printf("  Callback:    %s\n", job.FileUploadURI)
	return nil
}

func handleEmit(ctx context.Context, svc derivative.Service, opts map[string]string, useJSON bool) error {
	kind, ok := derivative.ParseEntityKind(opts["kind"])
	if !ok {
		return fmt.Errorf("--kind must be node, media, file or user")
	}
	id, err := parseID(opts, "id", true)
	if err != nil {
		return err
	}
	userID, err := parseID(opts, "user-id", false)
	if err != nil {
		return err
	}
	event, err := derivative.ParseEventType(opts["event"])
	if err != nil {
		return err
	}

	ev, err := svc.EmitEvent(ctx, derivative.EmitEventRequest{
		Kind:     kind,
		EntityID: id,
		UserID:   userID,
		Event:    event,
		Queue:    opts["queue"],
	})
	if err != nil {
		return err
	}

	if useJSON {
		printJSON(ev)
		return nil
	}
	fmt.Printf("Emitted %s for %s to %s\n", ev.Type, ev.Object.ID, opts["queue"])
	return nil
}

func handleBroker(ctx context.Context, svc derivative.Service, settings derivative.BrokerSettings) error {
	if err := svc.ValidateBroker(ctx, settings); err != nil {
		return err
	}
	fmt.Printf("Broker %s is reachable\n", settings.URL)
	return nil
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
