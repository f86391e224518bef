// Command env2badger imports login secrets from a .env file into the
// encrypted token store, so they no longer need to sit in plain text.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/betbot/robinhood/internal/client"
	"github.com/betbot/robinhood/pkg/secretstore"
)

// importable lists the keys the client reads back from the store.
var importable = map[string]bool{
	"RH_USERNAME":   true,
	"RH_PASSWORD":   true,
	"RH_MFA_SECRET": true,
}

func main() {
	var (
		inPath    = flag.String("in", ".env", "input .env file")
		dbPath    = flag.String("store", getenv("RH_TOKEN_STORE", "data/tokens.badger"), "token store path")
		secretKey = flag.String("key", getenv("RH_TOKEN_STORE_KEY", ""), "store encryption key (32 bytes base64/hex)")
		all       = flag.Bool("all", false, "import every variable, not only the login secrets")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("an encryption key is required: set RH_TOKEN_STORE_KEY or pass -key"))
	}

	kv, err := godotenv.Read(*inPath)
	if err != nil {
		fatal(err)
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{Path: *dbPath, EncryptionKey: keyBytes})
	if err != nil {
		fatal(err)
	}
	written, err := importEnv(ss, kv, *all)
	if cerr := ss.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "imported %s into %s\n", strings.Join(written, ", "), *dbPath)
}

// importEnv writes kv under client.EnvPrefix and returns the imported keys
// in order.
func importEnv(ss *secretstore.Store, kv map[string]string, all bool) ([]string, error) {
	var written []string
	for k, v := range kv {
		if !all && !importable[k] {
			continue
		}
		if err := ss.SetString(client.EnvPrefix+k, v); err != nil {
			return written, err
		}
		written = append(written, k)
	}
	sort.Strings(written)
	return written, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
