package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dbcourse/recordstore/internal/pkg/logging"
	"github.com/dbcourse/recordstore/store"
)

const cliName = "recordstore"

func printPrompt() {
	fmt.Print(cliName, "> ")
}

type metaCommand int

const (
	Unknown metaCommand = iota + 1
	Help
	Exit
)

func isMetaCommand(inputBuffer string) bool {
	return len(inputBuffer) > 0 && inputBuffer[:1] == "."
}

func doMetaCommand(inputBuffer string) metaCommand {
	switch inputBuffer {
	case "help":
		return Help
	case "exit":
		return Exit
	default:
		return Unknown
	}
}

const configFileName = "recordstore.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(configFileName)
	if err != nil {
		panic(err)
	}

	logConf := logging.DefaultConfig()
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	logConf.Level = zap.NewAtomicLevelAt(level)

	logger, err := logConf.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() // flushes buffer, if any

	sessionID := uuid.New()
	logger = logger.With(zap.String("session", sessionID.String()))

	aStore, err := store.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		panic(err)
	}

	wg := new(sync.WaitGroup)
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer cancel()
		reader := bufio.NewScanner(os.Stdin)
		printPrompt()

		// REPL (Read-eval-print loop) start
		for reader.Scan() {
			if ctx.Err() != nil {
				break
			}

			inputBuffer := strings.TrimSpace(reader.Text())
			if isMetaCommand(inputBuffer) {
				switch doMetaCommand(inputBuffer[1:]) {
				case Help:
					printHelp()
				case Exit:
					return
				case Unknown:
					fmt.Printf("Unrecognized meta command: %s\n", inputBuffer)
				}
			} else if inputBuffer != "" {
				dispatch(ctx, aStore, inputBuffer)
			}
			printPrompt()
		}
		// Print an additional line if we encountered an EOF character
		fmt.Println()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	if err := aStore.Close(ctx); err != nil {
		fmt.Printf("error closing store: %s\n", err)
	}

	cancel()
	wg.Wait()
}

func printHelp() {
	fmt.Println(".help                  - show available commands")
	fmt.Println(".exit                  - close the program")
	fmt.Println("insert <value>         - append value at the end of the store")
	fmt.Println("insertsync <value>     - place value in the first empty slot")
	fmt.Println("update <id> <value>    - overwrite record id (transaction required)")
	fmt.Println("read <id>              - print record id")
	fmt.Println("page <n>               - print all records in page n")
	fmt.Println("count                  - print record count and page count")
	fmt.Println("begin                  - start a transaction")
	fmt.Println("commit                 - commit the active transaction")
	fmt.Println("rollback               - roll back the active transaction")
	fmt.Println("checkpoint             - flush dirty pages and trim the file")
	fmt.Println("crash                  - simulate a power failure")
	fmt.Println("recover                - replay the journal after a crash")
}

func dispatch(ctx context.Context, s *store.Store, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case "insert":
		err = s.InsertRecord(ctx, strings.Join(args, " "))
	case "insertsync":
		err = s.InsertRecordSync(ctx, strings.Join(args, " "))
	case "update":
		err = runUpdate(ctx, s, args)
	case "read":
		err = runRead(ctx, s, args)
	case "page":
		err = runPage(ctx, s, args)
	case "count":
		err = runCount(ctx, s)
	case "begin":
		err = s.Begin(ctx)
	case "commit":
		err = s.Commit(ctx)
	case "rollback":
		err = s.Rollback(ctx)
	case "checkpoint":
		err = s.Checkpoint(ctx)
	case "crash":
		s.Crash(ctx)
	case "recover":
		err = s.Recover(ctx)
	default:
		fmt.Printf("Unrecognized command: %s\n", cmd)
		return
	}
	if err != nil {
		fmt.Printf("Error: %s\n", err)
	}
}

func runUpdate(ctx context.Context, s *store.Store, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: update <id> <value>")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return err
	}
	return s.UpdateRecord(ctx, id, strings.Join(args[1:], " "))
}

func runRead(ctx context.Context, s *store.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: read <id>")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return err
	}
	value, err := s.ReadRecord(ctx, id)
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func runPage(ctx context.Context, s *store.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: page <n>")
	}
	n, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return err
	}
	records, err := s.GetPage(ctx, uint32(n))
	if err != nil {
		return err
	}
	for i, r := range records {
		fmt.Printf("%d: %s\n", i, r)
	}
	return nil
}

func runCount(ctx context.Context, s *store.Store) error {
	records, err := s.RecordCount(ctx)
	if err != nil {
		return err
	}
	pages, err := s.PageCount(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("records: %d, pages: %d\n", records, pages)
	return nil
}
