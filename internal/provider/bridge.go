package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/klingon-exchange/walletbridge/internal/currency"
	"github.com/klingon-exchange/walletbridge/internal/wallet"
)

// Request is a call frame sent by the plugin. Args is a positional JSON array.
type Request struct {
	CBID json.RawMessage `json:"cbid"`
	Func string          `json:"func"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Reply answers a Request. Exactly one of Err and Res is non-null.
type Reply struct {
	CBID json.RawMessage `json:"cbid"`
	Func string          `json:"func"`
	Err  *string         `json:"err"`
	Res  interface{}     `json:"res"`
}

type bridgeFunc func(ctx context.Context, args json.RawMessage) (interface{}, error)

func (p *Provider) registerFuncs() {
	p.funcs = map[string]bridgeFunc{
		// Wallet selection
		"chooseCurrencyWallet": p.callChooseCurrencyWallet,
		"getCurrentWalletInfo": p.callGetCurrentWalletInfo,
		"getReceiveAddress":    p.callGetReceiveAddress,

		// Plugin data
		"writeData": p.callWriteData,
		"readData":  p.callReadData,

		// Spending
		"requestSpend":     p.callRequestSpend,
		"requestSpendUri":  p.callRequestSpendURI,
		"makeSpendRequest": p.callMakeSpendRequest,
		"signMessage":      p.callSignMessage,
		"trackConversion":  p.callTrackConversion,

		// Host UI
		"openURL":       p.callOpenURL,
		"displayToast":  p.callDisplayToast,
		"displayError":  p.callDisplayError,
		"consoleInfo":   p.callConsoleInfo,
		"exitPlugin":    p.callExitPlugin,
		"getDeviceInfo": p.callGetDeviceInfo,
	}
}

// Funcs lists the bridge function names.
func Funcs() []string {
	p := &Provider{}
	p.registerFuncs()
	names := make([]string, 0, len(p.funcs))
	for name := range p.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call runs a bridge function by name.
func (p *Provider) Call(ctx context.Context, fn string, args json.RawMessage) (interface{}, error) {
	f, ok := p.funcs[fn]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunc, fn)
	}
	return f(ctx, args)
}

// Handle decodes a call frame, runs it and builds the reply envelope.
func (p *Provider) Handle(ctx context.Context, raw []byte) *Reply {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorReply(nil, "", fmt.Errorf("invalid request: %w", err))
	}

	res, err := p.Call(ctx, req.Func, req.Args)
	if err != nil {
		p.log.Debug("Bridge call failed", "func", req.Func, "error", err)
		return errorReply(req.CBID, req.Func, err)
	}
	return &Reply{CBID: req.CBID, Func: req.Func, Res: res}
}

// Reject answers a call frame with err without running it.
func Reject(raw []byte, err error) *Reply {
	var req Request
	_ = json.Unmarshal(raw, &req)
	return errorReply(req.CBID, req.Func, err)
}

func errorReply(cbid json.RawMessage, fn string, err error) *Reply {
	msg := err.Error()
	return &Reply{CBID: cbid, Func: fn, Err: &msg}
}

// decodeArgs unmarshals positional arguments into dst. Missing and null
// arguments leave their destination untouched.
func decodeArgs(args json.RawMessage, dst ...interface{}) error {
	args = bytes.TrimSpace(args)
	if len(args) == 0 || bytes.Equal(args, []byte("null")) {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(args, &items); err != nil {
		return fmt.Errorf("args must be an array: %w", err)
	}
	for i, d := range dst {
		if i >= len(items) || bytes.Equal(bytes.TrimSpace(items[i]), []byte("null")) {
			continue
		}
		if err := json.Unmarshal(items[i], d); err != nil {
			return fmt.Errorf("invalid argument %d: %w", i, err)
		}
	}
	return nil
}

func (p *Provider) callChooseCurrencyWallet(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var codes []currency.ExtendedCode
	if err := decodeArgs(args, &codes); err != nil {
		return nil, err
	}
	return p.ChooseCurrencyWallet(ctx, codes)
}

func (p *Provider) callGetCurrentWalletInfo(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return p.CurrentWalletInfo(ctx)
}

func (p *Provider) callGetReceiveAddress(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var opts wallet.ReceiveOptions
	if err := decodeArgs(args, &opts); err != nil {
		return nil, err
	}
	return p.GetReceiveAddress(ctx, opts)
}

func (p *Provider) callWriteData(_ context.Context, args json.RawMessage) (interface{}, error) {
	var data map[string]*string
	if err := decodeArgs(args, &data); err != nil {
		return nil, err
	}
	if err := p.WriteData(data); err != nil {
		return nil, err
	}
	return true, nil
}

func (p *Provider) callReadData(_ context.Context, args json.RawMessage) (interface{}, error) {
	var keys []string
	if err := decodeArgs(args, &keys); err != nil {
		return nil, err
	}
	return p.ReadData(keys)
}

func (p *Provider) callRequestSpend(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var (
		targets []wallet.SpendTarget
		opts    SpendOptions
	)
	if err := decodeArgs(args, &targets, &opts); err != nil {
		return nil, err
	}
	return p.RequestSpend(ctx, targets, opts)
}

func (p *Provider) callRequestSpendURI(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var (
		uri  string
		opts SpendOptions
	)
	if err := decodeArgs(args, &uri, &opts); err != nil {
		return nil, err
	}
	return p.RequestSpendURI(ctx, uri, opts)
}

func (p *Provider) callMakeSpendRequest(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var spend wallet.SpendInfo
	if err := decodeArgs(args, &spend); err != nil {
		return nil, err
	}
	return p.MakeSpendRequest(ctx, spend)
}

func (p *Provider) callSignMessage(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var message string
	if err := decodeArgs(args, &message); err != nil {
		return nil, err
	}
	return p.SignMessage(ctx, message)
}

func (p *Provider) callTrackConversion(_ context.Context, args json.RawMessage) (interface{}, error) {
	var params ConversionParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if err := p.TrackConversion(params); err != nil {
		return nil, err
	}
	return true, nil
}

func (p *Provider) callOpenURL(_ context.Context, args json.RawMessage) (interface{}, error) {
	var u string
	if err := decodeArgs(args, &u); err != nil {
		return nil, err
	}
	if err := p.OpenURL(u); err != nil {
		return nil, err
	}
	return true, nil
}

func (p *Provider) callDisplayToast(_ context.Context, args json.RawMessage) (interface{}, error) {
	var msg string
	if err := decodeArgs(args, &msg); err != nil {
		return nil, err
	}
	p.DisplayToast(msg)
	return true, nil
}

func (p *Provider) callDisplayError(_ context.Context, args json.RawMessage) (interface{}, error) {
	var msg string
	if err := decodeArgs(args, &msg); err != nil {
		return nil, err
	}
	p.DisplayError(msg)
	return true, nil
}

func (p *Provider) callConsoleInfo(_ context.Context, args json.RawMessage) (interface{}, error) {
	var msg interface{}
	if err := decodeArgs(args, &msg); err != nil {
		return nil, err
	}
	p.ConsoleInfo(fmt.Sprint(msg))
	return true, nil
}

func (p *Provider) callExitPlugin(_ context.Context, _ json.RawMessage) (interface{}, error) {
	p.ExitPlugin()
	return true, nil
}

func (p *Provider) callGetDeviceInfo(_ context.Context, _ json.RawMessage) (interface{}, error) {
	return p.DeviceInfo(), nil
}
