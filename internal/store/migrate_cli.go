package store

import (
	"fmt"
	"io"
	"io/fs"
	"strconv"
)

// RunMigrateCommand executes a migrate action (up, down, status, version N,
// force N) against the database at dbPath and writes a report to out.
func RunMigrateCommand(out io.Writer, dbPath string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("missing migrate action")
	}
	s, err := OpenStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer s.Close()
	return s.runMigrate(out, MigrationsFS(), args)
}

func (s *Store) runMigrate(out io.Writer, migrationsFS fs.FS, args []string) error {
	action := args[0]
	switch action {
	case "up":
		if err := s.MigrateUp(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ All migrations applied successfully")
		return s.printVersion(out, migrationsFS)

	case "down":
		if err := s.MigrateDown(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ Migration rolled back successfully")
		return s.printVersion(out, migrationsFS)

	case "status":
		st, err := s.GetMigrationStatus(migrationsFS)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "=== Migration Status ===")
		fmt.Fprintf(out, "Current version: %d\n", st.CurrentVersion)
		fmt.Fprintf(out, "Latest available: %d\n", st.LatestVersion)
		fmt.Fprintf(out, "Dirty: %v\n", st.Dirty)
		fmt.Fprintf(out, "Schema migrations table exists: %v\n", st.TableExists)
		switch {
		case st.Dirty:
			fmt.Fprintln(out, "\n⚠️  WARNING: Database is in a dirty state!")
			fmt.Fprintln(out, "Inspect the database, fix it, then run: demetra migrate force <version>")
		case st.Pending():
			fmt.Fprintf(out, "\n⚠️  Database is %d version(s) behind. Run 'demetra migrate up' to update.\n", st.LatestVersion-st.CurrentVersion)
		default:
			fmt.Fprintln(out, "\n✓ Database is up to date!")
		}
		return nil

	case "version":
		if len(args) < 2 {
			return fmt.Errorf("usage: demetra migrate version <version_number>")
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if err := s.MigrateTo(migrationsFS, uint(v)); err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Migrated to version %d successfully\n", v)
		return nil

	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: demetra migrate force <version_number>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if err := s.MigrateForce(migrationsFS, v); err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Migration version forced to %d\n", v)
		return nil

	default:
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func (s *Store) printVersion(out io.Writer, migrationsFS fs.FS) error {
	version, dirty, err := s.MigrateVersion(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}
