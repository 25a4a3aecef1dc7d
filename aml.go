// Package aml is a freestanding ACPI Machine Language interpreter. A
// Context owns the object namespace built from DSDT/SSDT definition blocks
// and evaluates control methods against a Host, the contract through which
// the embedding kernel or hypervisor supplies memory, port and PCI access,
// synchronization and time. The event subsystem layers GPE decoding, fixed
// events, notifications and sleep sequencing on top of the interpreter.
package aml

import (
	"github.com/tinyrange/aml/internal/core"
	"github.com/tinyrange/aml/internal/event"
	"github.com/tinyrange/aml/internal/host"
	"github.com/tinyrange/aml/internal/tables"
)

// -----------------------------------------------------------------------------
// Type aliases - these re-export types from the internal packages.
// -----------------------------------------------------------------------------

// Context owns the namespace, installed tables and region handlers.
type Context = core.Context

// Status is the result code used across the interpreter and the host
// contract.
type Status = core.Status

// Object is the tagged variant every AML value is represented as.
type Object = core.Object

// ObjectKind tags an Object's variant.
type ObjectKind = core.ObjectKind

// Node is a named entry in the ACPI namespace.
type Node = core.Node

// Host is the callback contract the embedding OS provides.
type Host = core.Host

// PCIAddress identifies a PCI function.
type PCIAddress = core.PCIAddress

// RegionSpace identifies an operation region address space.
type RegionSpace = core.RegionSpace

// RegionSpaceHandler services operation regions of one address space.
type RegionSpaceHandler = core.RegionSpaceHandler

// OpRegion is a declared window into an address space.
type OpRegion = core.OpRegion

// IterDecision is a namespace visitor's verdict.
type IterDecision = core.IterDecision

// Table is an installed system description table.
type Table = core.Table

// EventContext is the event subsystem bound to a Context.
type EventContext = event.Context

// FixedEvent identifies a PM1 fixed event.
type FixedEvent = event.FixedEvent

// GpeTrigger selects a GPE acknowledge protocol.
type GpeTrigger = event.GpeTrigger

// SleepState is an ACPI S-state.
type SleepState = event.SleepState

// SimHost is an in-memory Host used by tests and tools.
type SimHost = host.SimHost

// EisaID is the seven character hardware ID form.
type EisaID = tables.EisaID

// FADT carries the fixed-hardware description consumed by events.
type FADT = tables.FADT

// SDTHeader is the common table header.
type SDTHeader = tables.SDTHeader

// -----------------------------------------------------------------------------
// Constants.
// -----------------------------------------------------------------------------

const (
	StatusSuccess        = core.StatusSuccess
	StatusUnexpectedEOF  = core.StatusUnexpectedEOF
	StatusInvalidAML     = core.StatusInvalidAML
	StatusInvalidArgs    = core.StatusInvalidArgs
	StatusInvalidType    = core.StatusInvalidType
	StatusNoMemory       = core.StatusNoMemory
	StatusNotFound       = core.StatusNotFound
	StatusMethodNotFound = core.StatusMethodNotFound
	StatusTimeout        = core.StatusTimeout
	StatusUnsupported    = core.StatusUnsupported
	StatusInternalError   = core.StatusInternalError
	StatusEndOfResources  = core.StatusEndOfResources
	StatusInvalidResource = core.StatusInvalidResource

	KindUninitialized = core.KindUninitialized
	KindInteger       = core.KindInteger
	KindString        = core.KindString
	KindBuffer        = core.KindBuffer
	KindPackage       = core.KindPackage
	KindField         = core.KindField
	KindDevice        = core.KindDevice
	KindEvent         = core.KindEvent
	KindMethod        = core.KindMethod
	KindMutex         = core.KindMutex
	KindOpRegion      = core.KindOpRegion
	KindPowerResource = core.KindPowerResource
	KindProcessor     = core.KindProcessor
	KindThermalZone   = core.KindThermalZone
	KindBufferField   = core.KindBufferField

	SpaceSystemMemory = core.SpaceSystemMemory
	SpaceSystemIO     = core.SpaceSystemIO
	SpacePCIConfig    = core.SpacePCIConfig

	IterContinue = core.IterContinue
	IterBreak    = core.IterBreak

	TriggerEdge  = event.TriggerEdge
	TriggerLevel = event.TriggerLevel

	FixedTimer       = event.FixedTimer
	FixedPowerButton = event.FixedPowerButton
	FixedSleepButton = event.FixedSleepButton
	FixedRTC         = event.FixedRTC

	S1 = event.S1
	S2 = event.S2
	S3 = event.S3
	S4 = event.S4
	S5 = event.S5

	TimeoutInfinite = core.TimeoutInfinite
)

// -----------------------------------------------------------------------------
// Constructors.
// -----------------------------------------------------------------------------

// NewContext builds an interpreter context with the predefined namespace.
var NewContext = core.NewContext

// NewEventContext parses a FADT and arms the event subsystem on ctx.
var NewEventContext = event.New

// NewSimHost returns an empty simulated host.
var NewSimHost = host.NewSimHost

// NewInteger, NewString, NewBuffer and NewPackage build transient argument
// objects.
var (
	NewInteger = core.NewInteger
	NewString  = core.NewString
	NewBuffer  = core.NewBuffer
	NewPackage = core.NewPackage
)

// EisaFromString and DecodeEisa convert hardware IDs for DiscoverNodes.
var (
	EisaFromString = tables.EisaFromString
	DecodeEisa     = tables.DecodeEisa
)

// ParseFADT decodes a raw FACP table.
var ParseFADT = tables.ParseFADT
