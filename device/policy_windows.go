//go:build windows

package device

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

var (
	clsidMMDeviceEnumerator = ole.NewGUID("{BCDE0395-E52F-467C-8E3D-C4579291692E}")
	iidIMMDeviceEnumerator  = ole.NewGUID("{A95664D2-9614-4F35-A746-DE8DB63617E6}")
	clsidPolicyConfigClient = ole.NewGUID("{870AF99C-171D-4F9E-AF0D-E63DF40C2BC9}")
	iidIPolicyConfig        = ole.NewGUID("{F8679F50-850A-41CF-9C72-430F290290C8}")

	pkeyDeviceFriendlyName = propertyKey{
		fmtid: *ole.NewGUID("{A45C254E-DF1C-4EFD-8020-67D146A850E0}"),
		pid:   14,
	}

	procPropVariantClear = windows.NewLazySystemDLL("ole32.dll").NewProc("PropVariantClear")
)

// vtable slots, counted from IUnknown::QueryInterface at 0.
const (
	slotEnumAudioEndpoints = 3  // IMMDeviceEnumerator
	slotCollectionCount    = 3  // IMMDeviceCollection
	slotCollectionItem     = 4  // IMMDeviceCollection
	slotOpenPropertyStore  = 4  // IMMDevice
	slotGetID              = 5  // IMMDevice
	slotPropertyGetValue   = 5  // IPropertyStore
	slotSetDefaultEndpoint = 13 // IPolicyConfig
)

const (
	deviceStateActive = 0x1
	stgmRead          = 0
	vtLPWSTR          = 31
)

type propertyKey struct {
	fmtid ole.GUID
	pid   uint32
}

// propVariant mirrors PROPVARIANT for the string case.
type propVariant struct {
	vt        uint16
	reserved1 uint16
	reserved2 uint16
	reserved3 uint16
	str       *uint16
	pad       uintptr
}

type comPolicy struct{}

// NewPolicyConfig returns the COM-backed PolicyConfig.
func NewPolicyConfig() PolicyConfig {
	return comPolicy{}
}

// comCall invokes vtable slot on obj and converts a failing HRESULT.
func comCall(obj *ole.IUnknown, slot int, args ...uintptr) error {
	vtbl := (*[32]uintptr)(unsafe.Pointer(obj.RawVTable))
	hr, _, _ := syscall.SyscallN(vtbl[slot], append([]uintptr{uintptr(unsafe.Pointer(obj))}, args...)...)
	if int32(hr) < 0 {
		return ole.NewError(hr)
	}
	return nil
}

// withCOM runs f on a locked thread with COM initialized.
func withCOM(f func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		var oleErr *ole.OleError
		// S_FALSE: already initialized on this thread, still needs the matching uninitialize.
		if !errors.As(err, &oleErr) || oleErr.Code() != 1 {
			return fmt.Errorf("failed to initialize COM: %w", err)
		}
	}
	defer ole.CoUninitialize()
	return f()
}

func (comPolicy) Endpoints(ctx context.Context, dir Direction) ([]Endpoint, error) {
	var endpoints []Endpoint
	err := withCOM(func() error {
		enumerator, err := ole.CreateInstance(clsidMMDeviceEnumerator, iidIMMDeviceEnumerator)
		if err != nil {
			return fmt.Errorf("create device enumerator: %w", err)
		}
		defer enumerator.Release()

		flow := uintptr(0) // eRender
		if dir == Capture {
			flow = 1 // eCapture
		}
		var collection *ole.IUnknown
		if err := comCall(enumerator, slotEnumAudioEndpoints, flow, deviceStateActive, uintptr(unsafe.Pointer(&collection))); err != nil {
			return fmt.Errorf("EnumAudioEndpoints: %w", err)
		}
		defer collection.Release()

		var count uint32
		if err := comCall(collection, slotCollectionCount, uintptr(unsafe.Pointer(&count))); err != nil {
			return fmt.Errorf("GetCount: %w", err)
		}
		for i := uint32(0); i < count; i++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ep, err := readEndpoint(collection, i)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "comPolicy.Endpoints",
					"index":    i,
					"error":    err.Error(),
				}).Debug("Skipping unreadable endpoint")
				continue
			}
			ep.Direction = dir
			endpoints = append(endpoints, ep)
		}
		return nil
	})
	return endpoints, err
}

func readEndpoint(collection *ole.IUnknown, index uint32) (Endpoint, error) {
	var device *ole.IUnknown
	if err := comCall(collection, slotCollectionItem, uintptr(index), uintptr(unsafe.Pointer(&device))); err != nil {
		return Endpoint{}, fmt.Errorf("Item: %w", err)
	}
	defer device.Release()

	var idPtr *uint16
	if err := comCall(device, slotGetID, uintptr(unsafe.Pointer(&idPtr))); err != nil {
		return Endpoint{}, fmt.Errorf("GetId: %w", err)
	}
	id := windows.UTF16PtrToString(idPtr)
	ole.CoTaskMemFree(uintptr(unsafe.Pointer(idPtr)))

	var store *ole.IUnknown
	if err := comCall(device, slotOpenPropertyStore, stgmRead, uintptr(unsafe.Pointer(&store))); err != nil {
		return Endpoint{}, fmt.Errorf("OpenPropertyStore: %w", err)
	}
	defer store.Release()

	var pv propVariant
	key := pkeyDeviceFriendlyName
	if err := comCall(store, slotPropertyGetValue, uintptr(unsafe.Pointer(&key)), uintptr(unsafe.Pointer(&pv))); err != nil {
		return Endpoint{}, fmt.Errorf("GetValue: %w", err)
	}
	defer procPropVariantClear.Call(uintptr(unsafe.Pointer(&pv)))

	name := ""
	if pv.vt == vtLPWSTR && pv.str != nil {
		name = windows.UTF16PtrToString(pv.str)
	}
	return Endpoint{ID: id, Name: name}, nil
}

func (comPolicy) SetDefaultEndpoint(id string, role Role) error {
	wid, err := windows.UTF16PtrFromString(id)
	if err != nil {
		return err
	}
	return withCOM(func() error {
		policy, err := ole.CreateInstance(clsidPolicyConfigClient, iidIPolicyConfig)
		if err != nil {
			return fmt.Errorf("create policy config: %w", err)
		}
		defer policy.Release()
		if err := comCall(policy, slotSetDefaultEndpoint, uintptr(unsafe.Pointer(wid)), uintptr(role)); err != nil {
			return fmt.Errorf("SetDefaultEndpoint role %d: %w", role, err)
		}
		return nil
	})
}
