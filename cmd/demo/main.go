package main

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/kestrelkv/dupbtree/btree"
)

const (
	demoKeySize   = 8  // uint64, big-endian
	demoValueSize = 16 // fixed-width payload, zero-padded
)

func main() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("Duplicate-Key B+ Tree Demo")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()
	fmt.Println("This demo walks through find/insert/erase over a disk-resident")
	fmt.Println("ordered multimap: several entries may share the same key, and")
	fmt.Println("find() returns every value stored under it.")
	fmt.Println()

	dir, err := os.MkdirTemp("", "dupbtree-demo-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	cfg := btree.DefaultConfig(dir+"/tree.db", dir+"/data.db", demoKeySize, demoValueSize)
	cfg.MaxChildren = 4
	cfg.MaxLeafEntries = 4

	idx, err := btree.Open(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()

	fmt.Println("✓ Opened index with M=4, L=4 (small capacities to force splits quickly)")

	fmt.Println("\n[Inserting session events — several share a user id as key]")
	events := []struct {
		userID uint64
		event  string
	}{
		{1001, "login"},
		{1001, "view_page"},
		{1001, "logout"},
		{1002, "login"},
		{1003, "login"},
		{1003, "purchase"},
		{1004, "login"},
	}
	for _, e := range events {
		err := idx.Insert(key(e.userID), value(e.event))
		if err != nil {
			log.Fatalf("insert: %v", err)
		}
		fmt.Printf("  INSERT user=%d event=%-10s\n", e.userID, e.event)
	}
	fmt.Printf("  Len() = %d\n", idx.Len())

	fmt.Println("\n[find(1001) — every event for that user, in ascending value order]")
	values, err := idx.Find(key(1001))
	if err != nil {
		log.Fatal(err)
	}
	for _, v := range values {
		fmt.Printf("  -> %s\n", decodeValue(v))
	}

	fmt.Println("\n[find(1003)]")
	values, err = idx.Find(key(1003))
	if err != nil {
		log.Fatal(err)
	}
	for _, v := range values {
		fmt.Printf("  -> %s\n", decodeValue(v))
	}

	fmt.Println("\n[find(9999) — key never inserted]")
	values, err = idx.Find(key(9999))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("  -> %d results\n", len(values))

	fmt.Println("\n[erase(1001, \"login\") — removes exactly that pair]")
	if err := idx.Erase(key(1001), value("login")); err != nil {
		log.Fatal(err)
	}
	values, _ = idx.Find(key(1001))
	fmt.Printf("  find(1001) now -> %d results\n", len(values))
	for _, v := range values {
		fmt.Printf("    -> %s\n", decodeValue(v))
	}

	fmt.Println("\n[erase(5555, \"login\") — key absent, silent no-op]")
	if err := idx.Erase(key(5555), value("login")); err != nil {
		log.Fatal(err)
	}
	fmt.Println("  (no error, nothing happened)")

	fmt.Printf("\nFinal Len() = %d\n", idx.Len())
}

func key(userID uint64) []byte {
	b := make([]byte, demoKeySize)
	binary.BigEndian.PutUint64(b, userID)
	return b
}

// value zero-pads an event name into the fixed-width value slot.
func value(event string) []byte {
	b := make([]byte, demoValueSize)
	copy(b, event)
	return b
}

func decodeValue(v []byte) string {
	end := len(v)
	for end > 0 && v[end-1] == 0 {
		end--
	}
	return string(v[:end])
}
