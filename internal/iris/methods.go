package iris

import "context"

// Iris method names used by this client (spec.md §4.3). Kept as named
// constants, one per typed wrapper below, rather than inline string
// literals, so a method rename on the server side touches exactly one
// line here.
const (
	methInstanceRegistryGetList  = "instanceRegistryGetList"
	methInstanceGetParent        = "instanceGetParent"
	methResourceGetList          = "resourceGetList"
	methResourceRead             = "resourceRead"
	methResourceWrite            = "resourceWrite"
	methMemoryRead               = "memoryRead"
	methMemoryWrite              = "memoryWrite"
	methEventSourceInfoGetList   = "eventSourceInfoGetList"
	methEventFieldsGetList       = "eventFieldsGetList"
	methEventStreamCreate        = "eventStreamCreate"
	methEventStreamDestroy       = "eventStreamDestroy"
	methExecutionControlStep     = "perInstanceExecutionControl.step"
	methExecutionControlRun      = "perInstanceExecutionControl.run"
	methExecutionControlStop     = "perInstanceExecutionControl.stop"
	methExecutionControlStopInfo = "perInstanceExecutionControl.getStopReason"
	methBreakpointSet            = "perInstanceExecutionControl.setBreakpoint"
	methBreakpointClear          = "perInstanceExecutionControl.clearBreakpoint"
)

// --- instanceRegistryGetList / instanceGetParent ---

// InstanceInfo is one entry of instanceRegistryGetList's result, the raw
// shape the catalog walks to build its path/id tree.
type InstanceInfo struct {
	InstID int64  `json:"instId"`
	Path   string `json:"path"`
}

type instanceRegistryGetListResult struct {
	Instances []InstanceInfo `json:"instances"`
}

// InstanceRegistryGetList lists every instance the server currently
// knows about (spec.md §4.5 "built by a breadth-first walk ... via
// instanceRegistryGetList").
func (c *Connection) InstanceRegistryGetList(ctx context.Context) ([]InstanceInfo, error) {
	var res instanceRegistryGetListResult
	if err := c.CallInto(ctx, methInstanceRegistryGetList, struct{}{}, &res, c.DefaultTimeout); err != nil {
		return nil, err
	}
	return res.Instances, nil
}

type instanceGetParentParams struct {
	InstID int64 `json:"instId"`
}

type instanceGetParentResult struct {
	ParentInstID int64 `json:"parentInstId"`
	HasParent    bool  `json:"hasParent"`
}

// InstanceGetParent resolves the parent instance id of instID, if any.
func (c *Connection) InstanceGetParent(ctx context.Context, instID int64) (parent int64, ok bool, err error) {
	var res instanceGetParentResult
	if err := c.CallInto(ctx, methInstanceGetParent, instanceGetParentParams{InstID: instID}, &res, c.DefaultTimeout); err != nil {
		return 0, false, err
	}
	return res.ParentInstID, res.HasParent, nil
}

// --- resourceGetList / resourceRead / resourceWrite ---

// ResourceDescriptor is spec.md §3's "Resource descriptor".
type ResourceDescriptor struct {
	ResourceID  int64  `json:"resourceId"`
	Name        string `json:"name"`
	Kind        string `json:"kind"` // "register" | "parameter" | "other"
	Width       int    `json:"width"`
	Description string `json:"description"`
}

type resourceGetListParams struct {
	InstID int64 `json:"instId"`
}

type resourceGetListResult struct {
	Resources []ResourceDescriptor `json:"resources"`
}

// ResourceGetList lists every resource descriptor of instID.
func (c *Connection) ResourceGetList(ctx context.Context, instID int64) ([]ResourceDescriptor, error) {
	var res resourceGetListResult
	if err := c.CallInto(ctx, methResourceGetList, resourceGetListParams{InstID: instID}, &res, c.DefaultTimeout); err != nil {
		return nil, err
	}
	return res.Resources, nil
}

// ResourceValue is spec.md §3's "Resource value".
type ResourceValue struct {
	Value        uint64 `json:"value"`
	MemorySpace  int64  `json:"memorySpaceId,omitempty"`
	HasMemSpace  bool   `json:"hasMemorySpace,omitempty"`
}

type resourceReadParams struct {
	InstID     int64 `json:"instId"`
	ResourceID int64 `json:"resourceId"`
}

// ResourceRead reads one resource's current value.
func (c *Connection) ResourceRead(ctx context.Context, instID, resourceID int64) (ResourceValue, error) {
	var res ResourceValue
	err := c.CallInto(ctx, methResourceRead, resourceReadParams{InstID: instID, ResourceID: resourceID}, &res, c.DefaultTimeout)
	return res, err
}

type resourceWriteParams struct {
	InstID     int64  `json:"instId"`
	ResourceID int64  `json:"resourceId"`
	Value      uint64 `json:"value"`
}

// ResourceWrite writes one resource's value.
func (c *Connection) ResourceWrite(ctx context.Context, instID, resourceID int64, value uint64) error {
	return c.CallInto(ctx, methResourceWrite, resourceWriteParams{InstID: instID, ResourceID: resourceID, Value: value}, nil, c.DefaultTimeout)
}

// --- memoryRead / memoryWrite ---

type memoryReadParams struct {
	InstID      int64 `json:"instId"`
	Address     uint64 `json:"address"`
	Length      int   `json:"length"`
	MemorySpace int64 `json:"memorySpaceId"`
}

type memoryReadResult struct {
	Data []byte `json:"data"`
}

// MemoryRead reads length bytes at address in memSpace on instID
// (spec.md §4.7 "m/M", default memory space resolved per SPEC_FULL.md
// Open Question 2).
func (c *Connection) MemoryRead(ctx context.Context, instID int64, address uint64, length int, memSpace int64) ([]byte, error) {
	var res memoryReadResult
	err := c.CallInto(ctx, methMemoryRead, memoryReadParams{InstID: instID, Address: address, Length: length, MemorySpace: memSpace}, &res, c.DefaultTimeout)
	return res.Data, err
}

type memoryWriteParams struct {
	InstID      int64  `json:"instId"`
	Address     uint64 `json:"address"`
	Data        []byte `json:"data"`
	MemorySpace int64  `json:"memorySpaceId"`
}

// MemoryWrite writes data at address in memSpace on instID.
func (c *Connection) MemoryWrite(ctx context.Context, instID int64, address uint64, data []byte, memSpace int64) error {
	return c.CallInto(ctx, methMemoryWrite, memoryWriteParams{InstID: instID, Address: address, Data: data, MemorySpace: memSpace}, nil, c.DefaultTimeout)
}

// --- eventSourceInfoGetList / eventFieldsGetList ---

// FieldDescriptor is one field of spec.md §3's "Event source".
type FieldDescriptor struct {
	Name string `json:"name"`
	Type string `json:"type"` // "uint" | "int" | "string" | "bytes"
	Size int    `json:"size,omitempty"`
}

// EventSourceDescriptor is spec.md §3's "Event source".
type EventSourceDescriptor struct {
	EventSourceID int64             `json:"eventSourceId"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Fields        []FieldDescriptor `json:"fields,omitempty"`
}

type eventSourceInfoGetListParams struct {
	InstID int64 `json:"instId"`
}

type eventSourceInfoGetListResult struct {
	Sources []EventSourceDescriptor `json:"sources"`
}

// EventSourceInfoGetList lists every event source descriptor of instID.
func (c *Connection) EventSourceInfoGetList(ctx context.Context, instID int64) ([]EventSourceDescriptor, error) {
	var res eventSourceInfoGetListResult
	if err := c.CallInto(ctx, methEventSourceInfoGetList, eventSourceInfoGetListParams{InstID: instID}, &res, c.DefaultTimeout); err != nil {
		return nil, err
	}
	return res.Sources, nil
}

type eventFieldsGetListParams struct {
	InstID        int64 `json:"instId"`
	EventSourceID int64 `json:"eventSourceId"`
}

type eventFieldsGetListResult struct {
	Fields []FieldDescriptor `json:"fields"`
}

// EventFieldsGetList lists the field descriptors of one event source.
func (c *Connection) EventFieldsGetList(ctx context.Context, instID, sourceID int64) ([]FieldDescriptor, error) {
	var res eventFieldsGetListResult
	if err := c.CallInto(ctx, methEventFieldsGetList, eventFieldsGetListParams{InstID: instID, EventSourceID: sourceID}, &res, c.DefaultTimeout); err != nil {
		return nil, err
	}
	return res.Fields, nil
}

// --- eventStreamCreate / eventStreamDestroy ---

type eventStreamCreateParams struct {
	InstID        int64 `json:"instId"`
	EventSourceID int64 `json:"eventSourceId"`
}

type eventStreamCreateResult struct {
	StreamID int64 `json:"streamId"`
}

// EventStreamCreate asks the server to start delivering eventNotifyMethod
// callbacks for (instID, sourceID); the returned stream id is only
// needed to later call EventStreamDestroy.
func (c *Connection) EventStreamCreate(ctx context.Context, instID, sourceID int64) (int64, error) {
	var res eventStreamCreateResult
	err := c.CallInto(ctx, methEventStreamCreate, eventStreamCreateParams{InstID: instID, EventSourceID: sourceID}, &res, c.DefaultTimeout)
	return res.StreamID, err
}

type eventStreamDestroyParams struct {
	StreamID int64 `json:"streamId"`
}

// EventStreamDestroy cancels a previously created event stream.
func (c *Connection) EventStreamDestroy(ctx context.Context, streamID int64) error {
	return c.CallInto(ctx, methEventStreamDestroy, eventStreamDestroyParams{StreamID: streamID}, nil, c.DefaultTimeout)
}

// --- run control ---

type perInstanceParams struct {
	InstID int64 `json:"instId"`
}

// ExecutionControlStep single-steps instID one instruction.
func (c *Connection) ExecutionControlStep(ctx context.Context, instID int64) error {
	return c.CallInto(ctx, methExecutionControlStep, perInstanceParams{InstID: instID}, nil, 0)
}

// ExecutionControlRun resumes instID. Per spec.md §4.3 this is explicitly
// long-running, so it carries no client-side timeout: it only returns
// (successfully) when the instance actually stops, or the caller's ctx
// is cancelled.
func (c *Connection) ExecutionControlRun(ctx context.Context, instID int64) error {
	return c.CallInto(ctx, methExecutionControlRun, perInstanceParams{InstID: instID}, nil, 0)
}

// ExecutionControlStop forces instID to a known stopped state.
func (c *Connection) ExecutionControlStop(ctx context.Context, instID int64) error {
	return c.CallInto(ctx, methExecutionControlStop, perInstanceParams{InstID: instID}, nil, c.DefaultTimeout)
}

// StopReason is the decoded shape of getStopReason's result.
type StopReason struct {
	Reason       string `json:"reason"` // "breakpoint" | "step" | "signal" | "unknown"
	BreakpointID int64  `json:"breakpointId,omitempty"`
}

// ExecutionControlStopReason asks why instID last stopped.
func (c *Connection) ExecutionControlStopReason(ctx context.Context, instID int64) (StopReason, error) {
	var res StopReason
	err := c.CallInto(ctx, methExecutionControlStopInfo, perInstanceParams{InstID: instID}, &res, c.DefaultTimeout)
	return res, err
}

// --- breakpoints ---

type breakpointSetParams struct {
	InstID      int64  `json:"instId"`
	Address     uint64 `json:"address"`
	Hardware    bool   `json:"hardware"`
	MemorySpace int64  `json:"memorySpaceId"`
}

type breakpointSetResult struct {
	BreakpointID int64 `json:"breakpointId"`
}

// BreakpointSet installs a software or hardware breakpoint at address on
// instID, returning a server-assigned id used by BreakpointClear.
func (c *Connection) BreakpointSet(ctx context.Context, instID int64, address uint64, hardware bool, memSpace int64) (int64, error) {
	var res breakpointSetResult
	err := c.CallInto(ctx, methBreakpointSet, breakpointSetParams{InstID: instID, Address: address, Hardware: hardware, MemorySpace: memSpace}, &res, c.DefaultTimeout)
	return res.BreakpointID, err
}

type breakpointClearParams struct {
	InstID       int64 `json:"instId"`
	BreakpointID int64 `json:"breakpointId"`
}

// BreakpointClear removes a previously set breakpoint.
func (c *Connection) BreakpointClear(ctx context.Context, instID, breakpointID int64) error {
	return c.CallInto(ctx, methBreakpointClear, breakpointClearParams{InstID: instID, BreakpointID: breakpointID}, nil, c.DefaultTimeout)
}
