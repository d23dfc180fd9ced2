package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
)

func (app *App) run(cmd string, args []string) error {
	switch cmd {
	case "info":
		return app.info()
	case "count":
		fmt.Println(app.cf.RecordCount())
		return nil
	case "get":
		return app.get(args)
	case "cat":
		return app.cat()
	case "add":
		return app.add(args)
	case "meta":
		return app.meta(args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (app *App) info() error {
	stats, err := app.cf.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("version:                %d\n", stats.Version)
	fmt.Printf("page size:              %d\n", stats.PageSize)
	fmt.Printf("compression block size: %d\n", stats.CompressionBlockSize)
	fmt.Printf("fan out:                %d\n", stats.FanOut)
	fmt.Printf("records:                %d\n", stats.Records)
	fmt.Printf("commit serial:          %d\n", stats.Serial)
	fmt.Printf("file limit:             %d\n", stats.FileLimit)
	fmt.Printf("has metadata:           %t\n", stats.HasMetadata)
	return nil
}

func (app *App) get(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("get needs exactly one record number")
	}
	n, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid record number %q: %w", args[0], err)
	}
	record, err := app.cf.RecordAt(n)
	if err != nil {
		return err
	}
	fmt.Println(string(record))
	return nil
}

func (app *App) cat() error {
	it, err := app.cf.Records(uint64(app.ko.Int64("start")))
	if err != nil {
		return err
	}

	var (
		limit   = uint64(app.ko.Int64("limit"))
		printed = uint64(0)
		out     = bufio.NewWriter(os.Stdout)
	)
	defer out.Flush()

	for it.Next() {
		if limit > 0 && printed == limit {
			break
		}
		out.Write(it.Record())
		out.WriteByte('\n')
		printed++
	}
	return it.Err()
}

func (app *App) add(args []string) error {
	if len(args) > 0 {
		for _, v := range args {
			if _, err := app.cf.AddRecord([]byte(v)); err != nil {
				return err
			}
		}
	} else {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 1<<20), 1<<26)
		for scanner.Scan() {
			if _, err := app.cf.AddRecord(append([]byte(nil), scanner.Bytes()...)); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("error reading stdin: %w", err)
		}
	}

	if err := app.cf.Commit(); err != nil {
		return err
	}
	fmt.Println(app.cf.RecordCount())
	return nil
}

func (app *App) meta(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("meta needs a subcommand: get, set or clear")
	}
	switch args[0] {
	case "get":
		metadata, err := app.cf.GetMetadata()
		if err != nil {
			return err
		}
		if metadata == nil {
			return nil
		}
		fmt.Println(string(metadata))
		return nil
	case "set":
		if len(args) != 2 {
			return fmt.Errorf("meta set needs exactly one value")
		}
		if err := app.cf.SetMetadata([]byte(args[1])); err != nil {
			return err
		}
		return app.cf.Commit()
	case "clear":
		if err := app.cf.SetMetadata(nil); err != nil {
			return err
		}
		return app.cf.Commit()
	default:
		return fmt.Errorf("unknown meta subcommand %q", args[0])
	}
}
