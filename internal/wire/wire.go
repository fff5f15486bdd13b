// Package wire describes the Fetch protocol spoken between the engine and its
// collaborators. Descriptors are assembled at runtime with protobuilder and
// messages are handled through dynamicpb, so neither side needs generated
// code. Values travel as JSON bytes.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"github.com/jhump/protoreflect/v2/protoprint"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/batchgraph/internal/invoker"
)

const (
	FilePath    = "batchgraph/collaborator/v1/collaborator.proto"
	Package     = "batchgraph.collaborator.v1"
	ServiceName = Package + ".Collaborator"
	FetchMethod = "/" + ServiceName + "/Fetch"

	// TraceHeader carries the request id in outgoing metadata.
	TraceHeader = "graphql-request-id"
)

// Protocol holds the descriptors of the Fetch protocol.
type Protocol struct {
	file     protoreflect.FileDescriptor
	key      protoreflect.MessageDescriptor
	request  protoreflect.MessageDescriptor
	entry    protoreflect.MessageDescriptor
	response protoreflect.MessageDescriptor
	fetch    protoreflect.MethodDescriptor
}

var (
	loadOnce sync.Once
	loaded   *Protocol
	loadErr  error
)

// Load builds the protocol descriptors once per process.
func Load() (*Protocol, error) {
	loadOnce.Do(func() { loaded, loadErr = build() })
	return loaded, loadErr
}

func field(name protoreflect.Name, number protoreflect.FieldNumber, typ *protobuilder.FieldType) *protobuilder.FieldBuilder {
	fb := protobuilder.NewField(name, typ)
	fb.SetNumber(number)
	return fb
}

func comments(text string) protobuilder.Comments {
	return protobuilder.Comments{LeadingComment: " " + text + "\n"}
}

func build() (*Protocol, error) {
	fb := protobuilder.NewFile(FilePath)
	fb.SetPackageName(protoreflect.FullName(Package))
	fb.SetSyntax(protoreflect.Proto3)

	key := protobuilder.NewMessage("Key")
	key.SetComments(comments("Key identifies one requested value."))
	key.AddField(field("operation", 1, protobuilder.FieldTypeScalar(protoreflect.StringKind)))
	key.AddField(field("id", 2, protobuilder.FieldTypeScalar(protoreflect.StringKind)))
	args := field("args", 3, protobuilder.FieldTypeScalar(protoreflect.StringKind))
	args.SetComments(comments("Canonical JSON object of the arguments taking part in identity."))
	key.AddField(args)

	request := protobuilder.NewMessage("FetchRequest")
	request.AddField(field("collaborator", 1, protobuilder.FieldTypeScalar(protoreflect.StringKind)))
	keys := field("keys", 2, protobuilder.FieldTypeMessage(key))
	keys.SetRepeated()
	request.AddField(keys)
	request.AddField(field("trace_id", 3, protobuilder.FieldTypeScalar(protoreflect.StringKind)))

	entry := protobuilder.NewMessage("Entry")
	entry.SetComments(comments("Entry answers one key. An empty value with no error_code is null."))
	entry.AddField(field("key", 1, protobuilder.FieldTypeMessage(key)))
	entry.AddField(field("value", 2, protobuilder.FieldTypeScalar(protoreflect.BytesKind)))
	entry.AddField(field("error_code", 3, protobuilder.FieldTypeScalar(protoreflect.StringKind)))
	entry.AddField(field("error_message", 4, protobuilder.FieldTypeScalar(protoreflect.StringKind)))

	response := protobuilder.NewMessage("FetchResponse")
	entries := field("entries", 1, protobuilder.FieldTypeMessage(entry))
	entries.SetRepeated()
	response.AddField(entries)

	fb.AddMessage(key)
	fb.AddMessage(request)
	fb.AddMessage(entry)
	fb.AddMessage(response)

	svc := protobuilder.NewService("Collaborator")
	svc.AddMethod(protobuilder.NewMethod("Fetch",
		protobuilder.RpcTypeMessage(request, false),
		protobuilder.RpcTypeMessage(response, false),
	))
	fb.AddService(svc)

	fd, err := fb.Build()
	if err != nil {
		return nil, fmt.Errorf("wire: build descriptors: %w", err)
	}
	msgs := fd.Messages()
	p := &Protocol{
		file:     fd,
		key:      msgs.ByName("Key"),
		request:  msgs.ByName("FetchRequest"),
		entry:    msgs.ByName("Entry"),
		response: msgs.ByName("FetchResponse"),
		fetch:    fd.Services().ByName("Collaborator").Methods().ByName("Fetch"),
	}
	return p, nil
}

// File returns the protocol's file descriptor.
func (p *Protocol) File() protoreflect.FileDescriptor { return p.file }

// FetchDescriptor returns the Fetch method descriptor.
func (p *Protocol) FetchDescriptor() protoreflect.MethodDescriptor { return p.fetch }

// Render prints the protocol as a .proto source file.
func (p *Protocol) Render(w io.Writer) error {
	pp := protoprint.Printer{}
	return pp.PrintProtoFile(p.file, w)
}

// NewRequestMessage returns an empty FetchRequest for decoding.
func (p *Protocol) NewRequestMessage() *dynamicpb.Message { return dynamicpb.NewMessage(p.request) }

// NewResponseMessage returns an empty FetchResponse for decoding.
func (p *Protocol) NewResponseMessage() *dynamicpb.Message { return dynamicpb.NewMessage(p.response) }

func (p *Protocol) encodeKey(k invoker.Key) *dynamicpb.Message {
	m := dynamicpb.NewMessage(p.key)
	fields := p.key.Fields()
	m.Set(fields.ByName("operation"), protoreflect.ValueOfString(k.Operation))
	m.Set(fields.ByName("id"), protoreflect.ValueOfString(k.ID))
	if k.Args != "" {
		m.Set(fields.ByName("args"), protoreflect.ValueOfString(k.Args))
	}
	return m
}

func (p *Protocol) decodeKey(m protoreflect.Message) invoker.Key {
	fields := p.key.Fields()
	return invoker.Key{
		Operation: m.Get(fields.ByName("operation")).String(),
		ID:        m.Get(fields.ByName("id")).String(),
		Args:      m.Get(fields.ByName("args")).String(),
	}
}

// NewRequest encodes req.
func (p *Protocol) NewRequest(req invoker.Request) *dynamicpb.Message {
	m := dynamicpb.NewMessage(p.request)
	fields := p.request.Fields()
	m.Set(fields.ByName("collaborator"), protoreflect.ValueOfString(req.Collaborator))
	m.Set(fields.ByName("trace_id"), protoreflect.ValueOfString(req.TraceID))
	list := m.Mutable(fields.ByName("keys")).List()
	for _, k := range req.Keys {
		list.Append(protoreflect.ValueOfMessage(p.encodeKey(k)))
	}
	return m
}

// ParseRequest decodes a FetchRequest.
func (p *Protocol) ParseRequest(m protoreflect.Message) (invoker.Request, error) {
	if m.Descriptor().FullName() != p.request.FullName() {
		return invoker.Request{}, fmt.Errorf("wire: unexpected message %s", m.Descriptor().FullName())
	}
	fields := p.request.Fields()
	req := invoker.Request{
		Collaborator: m.Get(fields.ByName("collaborator")).String(),
		TraceID:      m.Get(fields.ByName("trace_id")).String(),
	}
	list := m.Get(fields.ByName("keys")).List()
	req.Keys = make([]invoker.Key, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		req.Keys = append(req.Keys, p.decodeKey(list.Get(i).Message()))
	}
	return req, nil
}

// NewResponse encodes the results for keys in key order. Keys without a
// result are left out, which the engine reads as null.
func (p *Protocol) NewResponse(keys []invoker.Key, results map[invoker.Key]invoker.Result) (*dynamicpb.Message, error) {
	m := dynamicpb.NewMessage(p.response)
	list := m.Mutable(p.response.Fields().ByName("entries")).List()
	fields := p.entry.Fields()
	for _, k := range keys {
		res, ok := results[k]
		if !ok {
			continue
		}
		e := dynamicpb.NewMessage(p.entry)
		e.Set(fields.ByName("key"), protoreflect.ValueOfMessage(p.encodeKey(k)))
		if res.Err != nil {
			code, msg := "INTERNAL", res.Err.Error()
			var ke *invoker.KeyError
			if errors.As(res.Err, &ke) {
				code, msg = ke.Code, ke.Message
				if code == "" {
					code = "ERROR"
				}
			}
			e.Set(fields.ByName("error_code"), protoreflect.ValueOfString(code))
			e.Set(fields.ByName("error_message"), protoreflect.ValueOfString(msg))
		} else if res.Value != nil {
			raw, err := json.Marshal(res.Value)
			if err != nil {
				return nil, fmt.Errorf("wire: encode value for %s: %w", k, err)
			}
			e.Set(fields.ByName("value"), protoreflect.ValueOfBytes(raw))
		}
		list.Append(protoreflect.ValueOfMessage(e))
	}
	return m, nil
}

// ParseResponse decodes a FetchResponse into per-key results.
func (p *Protocol) ParseResponse(m protoreflect.Message) (map[invoker.Key]invoker.Result, error) {
	if m.Descriptor().FullName() != p.response.FullName() {
		return nil, fmt.Errorf("wire: unexpected message %s", m.Descriptor().FullName())
	}
	fields := p.entry.Fields()
	list := m.Get(p.response.Fields().ByName("entries")).List()
	out := make(map[invoker.Key]invoker.Result, list.Len())
	for i := 0; i < list.Len(); i++ {
		e := list.Get(i).Message()
		k := p.decodeKey(e.Get(fields.ByName("key")).Message())
		if code := e.Get(fields.ByName("error_code")).String(); code != "" {
			out[k] = invoker.Result{Err: &invoker.KeyError{Code: code, Message: e.Get(fields.ByName("error_message")).String()}}
			continue
		}
		raw := e.Get(fields.ByName("value")).Bytes()
		if len(raw) == 0 {
			out[k] = invoker.Result{}
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("wire: decode value for %s: %w", k, err)
		}
		out[k] = invoker.Result{Value: v}
	}
	return out, nil
}
