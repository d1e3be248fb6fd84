// Command lotusctl is a CLI client for the student admin service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	grpcserver "github.com/and161185/lotus-core/internal/server/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	insecurecreds "google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	Tenant      string    `json:"tenant"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "lotusctl")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "lotusctl")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tf tokenFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tf)
}

func loadToken() (tokenFile, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return tokenFile{}, err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return tokenFile{}, err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return tokenFile{}, errors.New("no valid token (run lotusctl token)")
	}
	return tf, nil
}

// ---- grpc dial ----

// callCreds attaches the tenant header and, when set, a bearer token.
type callCreds struct {
	token  string
	tenant string
	secure bool
}

func (c callCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	md := map[string]string{}
	if c.token != "" {
		md["authorization"] = "Bearer " + c.token
	}
	if c.tenant != "" {
		md[grpcserver.TenantHeader] = c.tenant
	}
	return md, nil
}

func (c callCreds) RequireTransportSecurity() bool { return c.secure }

func loadTLS(caPath string, insecure bool) (credentials.TransportCredentials, error) {
	if insecure {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

type dialOptions struct {
	addr      string
	caPath    string
	insecure  bool
	plaintext bool
	creds     callCreds
}

func dial(o dialOptions) (*grpc.ClientConn, *grpcserver.StudentAdminClient, error) {
	var transport credentials.TransportCredentials
	if o.plaintext {
		transport = insecurecreds.NewCredentials()
	} else {
		var err error
		if transport, err = loadTLS(o.caPath, o.insecure); err != nil {
			return nil, nil, err
		}
	}
	o.creds.secure = !o.plaintext
	cc, err := grpc.NewClient(o.addr,
		grpc.WithTransportCredentials(transport),
		grpc.WithPerRPCCredentials(o.creds),
	)
	if err != nil {
		return nil, nil, err
	}
	return cc, grpcserver.NewStudentAdminClient(cc), nil
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `lotusctl CLI
Usage:
  lotusctl -addr HOST:PORT [-cacert file | -insecure | -plaintext] [-tenant id] <cmd> [args]

Commands:
  version
  token    -tenant <id> -key <hs256 key> [-ttl 1h] [-sub name]   (saves token)
  create   [-id <id>] -username u -password p -name n -surname s -email e [-faculty f ...]
  update   -id <id> [-email e ...]                                (only given fields change)
  delete   -id <id>
  get      -id <id>
  list     [-faculty f] [-department d] [-internship-status s] [-page n -size n -sort f -dir asc|desc]
  search   -q <text> [-page n -size n]
  suggest  -prefix <text> [-limit n]
  rebuild                                                         (replay the tenant's read models)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures transport and tenant for RPC calls.
func main() {
	o := dialOptions{}
	flag.StringVar(&o.addr, "addr", "localhost:8443", "server addr")
	flag.StringVar(&o.caPath, "cacert", "", "CA cert (PEM)")
	flag.BoolVar(&o.insecure, "insecure", false, "skip cert verify (dev)")
	flag.BoolVar(&o.plaintext, "plaintext", false, "no TLS (dev)")
	flag.StringVar(&o.creds.tenant, "tenant", os.Getenv("LOTUS_TENANT"), "tenant id sent as x-tenant-id")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	switch cmd {
	case "version":
		fmt.Printf("lotusctl %s (%s)\n", version, buildDate)
		return
	case "token":
		if err := mintToken(args); err != nil {
			fail(err)
		}
		fmt.Println("ok")
		return
	}

	if tf, err := loadToken(); err == nil {
		o.creds.token = tf.AccessToken
	}
	if o.creds.token == "" && o.creds.tenant == "" {
		fail(errors.New("no tenant: pass -tenant or run lotusctl token"))
	}

	method, req, err := buildRequest(cmd, args)
	if err != nil {
		if errors.Is(err, errUnknownCommand) {
			usage()
		}
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, cli, err := dial(o)
	if err != nil {
		fail(err)
	}
	defer conn.Close()

	resp, err := cli.Call(ctx, method, req)
	if err != nil {
		fail(err)
	}
	printJSON(resp.AsMap())
}

func mintToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant id")
	key := fs.String("key", os.Getenv("LOTUS_JWT_KEY"), "HS256 signing key")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	sub := fs.String("sub", "lotusctl", "token subject")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenantID == "" || *key == "" {
		return errors.New("need -tenant and -key")
	}
	tok, err := grpcserver.SignTenantToken([]byte(*key), *tenantID, *sub, *ttl)
	if err != nil {
		return err
	}
	return saveToken(tokenFile{AccessToken: tok, Tenant: *tenantID, ExpiresAt: time.Now().Add(*ttl)})
}

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
