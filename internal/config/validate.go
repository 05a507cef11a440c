package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the settings required by the given command mode are
// present. Modes: status, run, contact, sync, rescore, import, intro, serve.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "status":
		errs = append(errs, c.checkIdentity()...)
		errs = append(errs, c.checkMail()...)
		errs = append(errs, c.checkCache()...)
	case "run", "contact":
		errs = append(errs, c.checkIdentity()...)
		errs = append(errs, c.checkMail()...)
		errs = append(errs, c.checkCache()...)
		errs = append(errs, c.checkExtract()...)
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Mail.BodySource == "gmail" && c.Gmail.Token == "" {
			errs = append(errs, "gmail.token is required when mail.body_source is gmail")
		}
	case "sync":
		errs = append(errs, c.checkCache()...)
		errs = append(errs, c.checkGraph()...)
	case "rescore":
		errs = append(errs, c.checkIdentity()...)
		errs = append(errs, c.checkMail()...)
		errs = append(errs, c.checkGraph()...)
	case "import":
		errs = append(errs, c.checkGraph()...)
	case "intro":
		errs = append(errs, c.checkIdentity()...)
		errs = append(errs, c.checkGraph()...)
	case "serve":
		errs = append(errs, c.checkIdentity()...)
		errs = append(errs, c.checkGraph()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) checkIdentity() []string {
	if len(c.Identity.MyEmails) == 0 {
		return []string{"identity.my_emails is required"}
	}
	return nil
}

func (c *Config) checkMail() []string {
	var errs []string
	switch c.Mail.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("mail.driver must be sqlite or postgres, got %q", c.Mail.Driver))
	}
	if c.Mail.DSN == "" {
		errs = append(errs, "mail.dsn is required")
	}
	switch c.Mail.BodySource {
	case "index", "gmail":
	default:
		errs = append(errs, fmt.Sprintf("mail.body_source must be index or gmail, got %q", c.Mail.BodySource))
	}
	return errs
}

func (c *Config) checkCache() []string {
	if c.Cache.Path == "" {
		return []string{"cache.path is required"}
	}
	return nil
}

func (c *Config) checkGraph() []string {
	switch c.Graph.Driver {
	case "sqlite":
		if c.Graph.Path == "" {
			return []string{"graph.path is required for the sqlite graph driver"}
		}
	case "neo4j":
		var errs []string
		if c.Graph.Neo4j.URI == "" {
			errs = append(errs, "graph.neo4j.uri is required")
		}
		if c.Graph.Neo4j.User == "" {
			errs = append(errs, "graph.neo4j.user is required")
		}
		return errs
	default:
		return []string{fmt.Sprintf("graph.driver must be sqlite or neo4j, got %q", c.Graph.Driver)}
	}
	return nil
}

func (c *Config) checkExtract() []string {
	var errs []string
	if c.Extract.MessagesPerContact < 1 {
		errs = append(errs, "extract.messages_per_contact must be >= 1")
	}
	if c.Extract.CallTimeoutSecs < 1 {
		errs = append(errs, "extract.call_timeout_secs must be >= 1")
	}
	if c.Extract.MaxAttempts < 1 {
		errs = append(errs, "extract.max_attempts must be >= 1")
	}
	if c.Extract.CallIntervalMs < 0 {
		errs = append(errs, "extract.call_interval_ms must be >= 0")
	}
	return errs
}
