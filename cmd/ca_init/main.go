// ca_init prepares a ztcore installation before first start: it creates
// the certificate authority root pair and, when a password is given,
// provisions the initial admin account. Both steps are idempotent, so
// rerunning against a live installation changes nothing.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/lcalzada-xor/ztcore/internal/adapters/storage"
	"github.com/lcalzada-xor/ztcore/internal/config"
	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/services/auth"
	"github.com/lcalzada-xor/ztcore/internal/core/services/ca"
)

func main() {
	defaults := config.Defaults()
	caDir := flag.String("ca-dir", defaults.CADir, "Certificate authority directory")
	dbPath := flag.String("db", defaults.DBPath, "Path to SQLite database")
	adminUser := flag.String("admin-user", "admin", "Initial admin username")
	adminPass := flag.String("admin-pass", "", "Initial admin password (empty skips account provisioning)")
	flag.Parse()

	log.Println("=== ztcore installation init ===")
	log.Printf("CA directory: %s", *caDir)

	authority, err := ca.NewAuthority(*caDir)
	if err != nil {
		log.Fatalf("Failed to init certificate authority: %v", err)
	}
	log.Printf("✓ Root certificate ready (%d bytes PEM)", len(authority.RootCertPEM()))

	if *adminPass == "" {
		log.Println("No -admin-pass given; skipping admin account")
		return
	}

	store, err := storage.NewSQLiteAdapter(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, err := store.GetUserByUsername(ctx, *adminUser); err == nil {
		log.Printf("User %q already exists, leaving untouched", *adminUser)
		return
	} else if !domain.IsNotFound(err) {
		log.Fatalf("Failed to check for existing user: %v", err)
	}

	// The token machinery is unused here; only CreateUser runs.
	authSvc := auth.NewService(store, "bootstrap", time.Minute)
	if err := authSvc.CreateUser(ctx, domain.User{Username: *adminUser, Role: domain.RoleAdmin}, *adminPass); err != nil {
		log.Fatalf("Failed to create admin account: %v", err)
	}
	log.Printf("✓ Admin account %q created in %s", *adminUser, *dbPath)
}
