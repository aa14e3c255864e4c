package server

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/ticket-tracker/internal/common"
	"github.com/joseph-ayodele/ticket-tracker/internal/correction"
	"github.com/joseph-ayodele/ticket-tracker/internal/utils"
)

const ServiceName = "tickets.v1.TicketService"

// TicketServiceServer is the gRPC contract. Requests and responses are
// well-known protobuf types carrying the same JSON views as the HTTP API.
type TicketServiceServer interface {
	// ParseText takes {text, policy} and returns a ResultView.
	ParseText(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// SubmitImage takes {filename, data (base64), policy} and returns a ResultView.
	SubmitImage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetJob(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetTicket(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// ListTickets takes a filter and returns {tickets: [...]}.
	ListTickets(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// UpdateTicket takes {id, patch} and returns the corrected ticket.
	UpdateTicket(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExportTickets(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	// IngestDirectory takes {root, skipHidden, policy}, a directory on the
	// server, and queues every screenshot in it.
	IngestDirectory(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// unary builds the MethodDesc for one RPC.
func unary[Req any, PReq interface {
	*Req
	proto.Message
}, Resp proto.Message](name string, call func(TicketServiceServer, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TicketServiceServer), ctx, req.(PReq))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var TicketServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TicketServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ParseText", TicketServiceServer.ParseText),
		unary("SubmitImage", TicketServiceServer.SubmitImage),
		unary("GetJob", TicketServiceServer.GetJob),
		unary("GetTicket", TicketServiceServer.GetTicket),
		unary("ListTickets", TicketServiceServer.ListTickets),
		unary("UpdateTicket", TicketServiceServer.UpdateTicket),
		unary("ExportTickets", TicketServiceServer.ExportTickets),
		unary("IngestDirectory", TicketServiceServer.IngestDirectory),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterTicketServiceServer(s grpc.ServiceRegistrar, srv TicketServiceServer) {
	s.RegisterService(&TicketServiceDesc, srv)
}

// GRPCHandler adapts Service to TicketServiceServer.
type GRPCHandler struct {
	svc *Service
}

func NewGRPCHandler(svc *Service) *GRPCHandler {
	return &GRPCHandler{svc: svc}
}

var _ TicketServiceServer = (*GRPCHandler)(nil)

func decode(in *structpb.Struct, dst any) error {
	if in == nil {
		return nil
	}
	if err := utils.FromStruct(in, dst); err != nil {
		return common.NewAppError("BAD_REQUEST", "malformed request: "+err.Error(), common.ErrInvalidInput)
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	out, err := utils.ToStruct(v)
	if err != nil {
		return nil, common.NewAppError("ENCODE_ERROR", "encode response", err)
	}
	return out, nil
}

type parseTextRequest struct {
	Text   string `json:"text"`
	Policy string `json:"policy"`
}

func (h *GRPCHandler) ParseText(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req parseTextRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	res, err := h.svc.ParseText(ctx, req.Text, req.Policy)
	if err != nil {
		return nil, err
	}
	return encode(res)
}

type submitImageRequest struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
	Policy   string `json:"policy"`
}

func (h *GRPCHandler) SubmitImage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req submitImageRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	res, err := h.svc.SubmitImage(ctx, req.Filename, bytes.NewReader(req.Data), req.Policy)
	if err != nil {
		return nil, err
	}
	return encode(res)
}

func (h *GRPCHandler) GetJob(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	view, err := h.svc.Job(ctx, in.GetValue())
	if err != nil {
		return nil, err
	}
	return encode(view)
}

func (h *GRPCHandler) GetTicket(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	t, err := h.svc.Ticket(ctx, in.GetValue())
	if err != nil {
		return nil, err
	}
	return encode(t)
}

type listTicketsRequest struct {
	From        string `json:"from"`
	To          string `json:"to"`
	TrainNumber string `json:"trainNumber"`
	Station     string `json:"station"`
	Edited      *bool  `json:"edited"`
	Limit       int    `json:"limit"`
	Offset      int    `json:"offset"`
}

func (r listTicketsRequest) query() FilterQuery {
	q := FilterQuery{From: r.From, To: r.To, TrainNumber: r.TrainNumber, Station: r.Station}
	if r.Edited != nil {
		q.Edited = strconv.FormatBool(*r.Edited)
	}
	if r.Limit != 0 {
		q.Limit = strconv.Itoa(r.Limit)
	}
	if r.Offset != 0 {
		q.Offset = strconv.Itoa(r.Offset)
	}
	return q
}

func (h *GRPCHandler) ListTickets(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listTicketsRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	f, err := req.query().Filter()
	if err != nil {
		return nil, err
	}
	list, err := h.svc.Tickets(ctx, f)
	if err != nil {
		return nil, err
	}
	return encode(map[string]any{"tickets": list})
}

type updateTicketRequest struct {
	ID    string          `json:"id"`
	Patch json.RawMessage `json:"patch"`
}

func (h *GRPCHandler) UpdateTicket(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req updateTicketRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	patch, err := correction.DecodePatch(req.Patch)
	if err != nil {
		return nil, err
	}
	t, err := h.svc.UpdateTicket(ctx, req.ID, patch)
	if err != nil {
		return nil, err
	}
	return encode(t)
}

func (h *GRPCHandler) ExportTickets(ctx context.Context, in *structpb.Struct) (*wrapperspb.BytesValue, error) {
	var req listTicketsRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	f, err := req.query().Filter()
	if err != nil {
		return nil, err
	}
	data, err := h.svc.ExportXLSX(ctx, f)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(data), nil
}

type ingestDirectoryRequest struct {
	Root       string `json:"root"`
	SkipHidden *bool  `json:"skipHidden"`
	Policy     string `json:"policy"`
}

func (h *GRPCHandler) IngestDirectory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ingestDirectoryRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	skip := req.SkipHidden == nil || *req.SkipHidden
	rep, err := h.svc.IngestDirectory(ctx, req.Root, skip, req.Policy)
	if err != nil {
		return nil, err
	}
	return encode(rep)
}

// TicketServiceClient calls TicketService over a client connection.
type TicketServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewTicketServiceClient(cc grpc.ClientConnInterface) *TicketServiceClient {
	return &TicketServiceClient{cc: cc}
}

func (c *TicketServiceClient) invoke(ctx context.Context, method string, in, out proto.Message, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

func (c *TicketServiceClient) ParseText(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "ParseText", in, out, opts...)
}

func (c *TicketServiceClient) SubmitImage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "SubmitImage", in, out, opts...)
}

func (c *TicketServiceClient) GetJob(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "GetJob", wrapperspb.String(id), out, opts...)
}

func (c *TicketServiceClient) GetTicket(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "GetTicket", wrapperspb.String(id), out, opts...)
}

func (c *TicketServiceClient) ListTickets(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "ListTickets", in, out, opts...)
}

func (c *TicketServiceClient) UpdateTicket(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "UpdateTicket", in, out, opts...)
}

func (c *TicketServiceClient) ExportTickets(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	return out, c.invoke(ctx, "ExportTickets", in, out, opts...)
}

func (c *TicketServiceClient) IngestDirectory(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "IngestDirectory", in, out, opts...)
}
