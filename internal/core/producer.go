package core

import (
	"strconv"
	"strings"
	"time"

	"github.com/writerr/changepipeline/internal/pipelineerr"
)

// ProducerStatus is a registered producer's lifecycle state. Modeled as a
// small state machine the way session.Service.ensureSession models session
// lifecycle.
type ProducerStatus string

const (
	ProducerPending             ProducerStatus = "Pending"
	ProducerActive              ProducerStatus = "Active"
	ProducerSuspended           ProducerStatus = "Suspended"
	ProducerDeactivated         ProducerStatus = "Deactivated"
	ProducerSecurityViolation   ProducerStatus = "SecurityViolation"
	ProducerVersionIncompatible ProducerStatus = "VersionIncompatible"
)

// Capabilities is the producer's self-declared operating envelope,
// submitted as part of its registration manifest.
type Capabilities struct {
	Operations       []string
	Providers        []string
	MaxBatchSize     int
	SupportsRealtime bool
	FileTypes        []string
	Permissions      []string
}

// Manifest is RegisterProducer's argument: a plugin's declared identity
// and capabilities.
type Manifest struct {
	PluginID     string
	Name         string
	Version      string
	Capabilities Capabilities
	SecurityHash string
}

// AuthContext is RegisterProducer's return value, carried by every
// subsequent submission from that producer.
type AuthContext struct {
	PluginID string
	Status   ProducerStatus
	Manifest Manifest
	IssuedAt time.Time
}

// MinPluginVersion is the oldest manifest major version Core accepts;
// older producers register as VersionIncompatible rather than Active.
const MinPluginVersion = 1

// RegisterProducer validates manifest and admits the producer, assigning
// it a lifecycle status. A manifest missing required identity fields is a
// hard error (SchemaInvalid); a manifest that parses but fails the
// security-hash or version check still registers, just not as Active, so
// the caller can inspect why.
func (c *Core) RegisterProducer(manifest Manifest) (AuthContext, error) {
	if manifest.PluginID == "" || manifest.Name == "" || manifest.Version == "" {
		return AuthContext{}, pipelineerr.New(pipelineerr.CodeSchemaInvalid, "manifest requires plugin_id, name, and version")
	}

	auth := AuthContext{
		PluginID: manifest.PluginID,
		Manifest: manifest,
		IssuedAt: time.Now(),
		Status:   ProducerPending,
	}

	switch {
	case manifest.SecurityHash == "":
		auth.Status = ProducerSecurityViolation
	case !versionCompatible(manifest.Version):
		auth.Status = ProducerVersionIncompatible
	default:
		auth.Status = ProducerActive
	}

	c.mu.Lock()
	c.producers[manifest.PluginID] = &auth
	c.mu.Unlock()

	return auth, nil
}

// versionCompatible reports whether a dotted version string's major
// component meets MinPluginVersion. Malformed versions are treated as
// incompatible rather than panicking the registration path.
func versionCompatible(version string) bool {
	major := strings.SplitN(version, ".", 2)[0]
	n, err := strconv.Atoi(major)
	if err != nil {
		return false
	}
	return n >= MinPluginVersion
}

// Producer looks up a registered producer's current AuthContext.
func (c *Core) Producer(pluginID string) (AuthContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.producers[pluginID]
	if !ok {
		return AuthContext{}, false
	}
	return *p, true
}

// SuspendProducer moves an Active producer to Suspended, e.g. after
// repeated rate-limit or policy violations.
func (c *Core) SuspendProducer(pluginID string) error {
	return c.transitionProducer(pluginID, ProducerSuspended)
}

// ReactivateProducer moves a Suspended producer back to Active.
func (c *Core) ReactivateProducer(pluginID string) error {
	return c.transitionProducer(pluginID, ProducerActive)
}

// DeactivateProducer permanently retires a producer's registration.
func (c *Core) DeactivateProducer(pluginID string) error {
	return c.transitionProducer(pluginID, ProducerDeactivated)
}

func (c *Core) transitionProducer(pluginID string, to ProducerStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.producers[pluginID]
	if !ok {
		return pipelineerr.New(pipelineerr.CodeUnknownID, "no such registered producer")
	}
	if p.Status == ProducerDeactivated {
		return pipelineerr.New(pipelineerr.CodeIllegalTransition, "producer is deactivated and cannot change state")
	}
	p.Status = to
	return nil
}

// authorizeSubmission checks that auth (if given) is Active and that the
// submission's claimed producer/operation fall within its registered
// capabilities, before the submission reaches validation.
func authorizeSubmission(auth *AuthContext, source string, opType string) error {
	if auth == nil {
		return nil
	}
	if auth.Status != ProducerActive {
		return pipelineerr.New(pipelineerr.CodeUnauthorized, "producer is not active: "+string(auth.Status))
	}
	caps := auth.Manifest.Capabilities
	if len(caps.Providers) > 0 && source != "" && !contains(caps.Providers, source) {
		return pipelineerr.New(pipelineerr.CodeUnauthorized, "producer not authorized for source "+source)
	}
	if len(caps.Operations) > 0 && opType != "" && !contains(caps.Operations, opType) {
		return pipelineerr.New(pipelineerr.CodeUnauthorized, "producer not authorized for operation "+opType)
	}
	return nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
