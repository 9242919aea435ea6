// Package fusb302 implements a Type-C port controller driver for the
// ONSemi FUSB302, as a tcpm.Driver.
package fusb302

import (
	"errors"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"

	"github.com/puzrin/pdsink/pdmsg"
	"github.com/puzrin/pdsink/tcpm"
)

// MPN represents the manufacturer part number.
type MPN uint8

// I2CAddress returns the I2C address of the FUSB302.
func (m MPN) I2CAddress() uint16 { return uint16(m) }

// Manufacturer part numbers.
const (
	FUSB302BUCX   MPN = 0b100010
	FUSB302BMPX   MPN = 0b100010
	FUSB302VMPX   MPN = 0b100010
	FUSB302B01MPX MPN = 0b100011
	FUSB302B10MPX MPN = 0b100100
	FUSB302B11MPX MPN = 0b100101
)

const msgQueueSize = 10

// FUSB302 is a tcpm.Driver for the ONSemi FUSB302 over I2C. If alert is
// non-nil, Wait blocks on its falling edge instead of the caller having to
// poll Alert on a timer; the original driver (driver/fusb302.c) is
// interrupt-driven in exactly this way, unlike the teacher's polling-only
// reference port.
type FUSB302 struct {
	dev   i2c.Dev
	alert gpio.PinIn

	intA uint8 // cached interrupt bits not yet consumed by Alert

	// Fixed-size queue; messages are dropped if full rather than blocking
	// the I2C bus inside an interrupt path.
	msgs chan pdmsg.Message

	buf [pdmsg.MaxMessageBytes + 10]byte
}

// New creates a new driver. The I2C bus must run at <=1MHz. alert may be
// nil, in which case Wait always returns immediately and the caller must
// poll Alert on a timer instead.
func New(bus i2c.Bus, mpn MPN, alert gpio.PinIn) *FUSB302 {
	return &FUSB302{
		dev:   i2c.Dev{Bus: bus, Addr: mpn.I2CAddress()},
		alert: alert,
		msgs:  make(chan pdmsg.Message, msgQueueSize),
	}
}

// Wait blocks until the alert line asserts or d elapses, whichever comes
// first. It is a no-op returning immediately if no alert pin was given.
func (f *FUSB302) Wait(d time.Duration) {
	if f.alert == nil {
		return
	}
	_, _ = f.alert.WaitForEdge(d)
}

func (f *FUSB302) write(r uint8, d byte) error {
	f.buf[0] = r
	f.buf[1] = d
	return f.dev.Tx(f.buf[:2], nil)
}

func (f *FUSB302) read(r uint8) (byte, error) {
	f.buf[0] = r
	err := f.dev.Tx(f.buf[:1], f.buf[1:2])
	return f.buf[1], err
}

func (f *FUSB302) writeMany(r uint8, d []byte) error {
	f.buf[0] = r
	copy(f.buf[1:], d)
	return f.dev.Tx(f.buf[:len(d)+1], nil)
}

func (f *FUSB302) readMany(r uint8, d []byte) error {
	f.buf[0] = r
	err := f.dev.Tx(f.buf[:1], f.buf[1:len(d)+1])
	if err == nil {
		copy(d, f.buf[1:len(d)+1])
	}
	return err
}

// Init implements tcpm.Driver.
func (f *FUSB302) Init() error {
	if err := f.write(regReset, regResetSWReset); err != nil {
		return err
	}
	if err := f.write(regControl1, 0b100); err != nil { // flush rx FIFO
		return err
	}
FlushReceiveQueue:
	for {
		select {
		case <-f.msgs:
		default:
			break FlushReceiveQueue
		}
	}
	if err := f.write(regPower, regPowerPwrAll); err != nil {
		return err
	}
	if err := f.write(regControl2, 0b00000101); err != nil { // auto-detect CC, sink mode
		return err
	}
	if err := f.write(regControl3, 0b111); err != nil { // auto retry
		return err
	}
	if f.alert != nil {
		if err := f.alert.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			return err
		}
	}
	return nil
}

// SetCC implements tcpm.Driver. The FUSB302 only supports sink-mode
// auto-toggle in this build; Rp is not a legal request.
func (f *FUSB302) SetCC(pull tcpm.CCPull) error {
	if pull == tcpm.CCPullRp {
		return errNotSupported
	}
	return nil
}

// SetPolarity implements tcpm.Driver by fixing TX/RX enable on the given
// CC line.
func (f *FUSB302) SetPolarity(pol tcpm.Polarity) error {
	r, err := f.read(regSwitches0)
	if err != nil {
		return err
	}
	r &^= regSwitches0MeasCC1 | regSwitches0MeasCC2
	meas := byte(regSwitches0MeasCC1)
	txEn := byte(regSwitches1TxCC1En)
	if pol == tcpm.PolarityCC2 {
		meas = regSwitches0MeasCC2
		txEn = regSwitches1TxCC2En
	}
	if err := f.write(regSwitches0, r|meas|regSwitches0CC1PdEn|regSwitches0CC2PdEn); err != nil {
		return err
	}
	return f.write(regSwitches1, regSwitches1SpecRev1|regSwitches1AutoGCRC|txEn)
}

// SetRxEnable implements tcpm.Driver. The FUSB302 always listens once
// switches are configured by SetPolarity; this toggles the measure block
// power so a disabled port draws less.
func (f *FUSB302) SetRxEnable(enable bool) error {
	p := byte(regPowerPwrAll)
	if !enable {
		p = 0b0001 // bandgap/wake only
	}
	return f.write(regPower, p)
}

// SetMsgHeader implements tcpm.Driver. The FUSB302 does not template its
// own GoodCRC header fields from software; role/revision are only used by
// the policy layer above, so this is a no-op that always succeeds.
func (f *FUSB302) SetMsgHeader(pdmsg.PowerRole, pdmsg.DataRole, pdmsg.Revision) error {
	return nil
}

// SetBISTTestMode implements tcpm.Driver.
func (f *FUSB302) SetBISTTestMode(mode tcpm.BISTTestMode) error {
	r, err := f.read(regControl1)
	if err != nil {
		return err
	}
	if mode == tcpm.BISTTestModeOn {
		r |= regControl1BISTMode
	} else {
		r &^= regControl1BISTMode
	}
	return f.write(regControl1, r)
}

// Transmit implements tcpm.Driver.
func (f *FUSB302) Transmit(t tcpm.TxType, m pdmsg.Message) error {
	if t == tcpm.TxHardReset {
		return f.sendHardReset()
	}
	if t == tcpm.TxCableReset {
		return errNotSupported
	}

	if err := f.write(regControl0, 0b01100100); err != nil { // flush TX FIFO
		return err
	}

	sync1 := fifoTokenSync1
	if t == tcpm.TxSOPPrime {
		sync1 = fifoTokenSync2
	} else if t == tcpm.TxSOPDoublePrime {
		sync1 = fifoTokenSync3
	}

	buf := make([]byte, 9+pdmsg.MaxMessageBytes)
	copy(buf, []byte{sync1, sync1, sync1, fifoTokenSync2})
	mlen := m.ToBytes(buf[5:])
	buf[4] = fifoTokenPackSym | mlen
	copy(buf[5+mlen:], []byte{fifoTokenJamCRC, fifoTokenEOP, fifoTokenTxOff, fifoTokenTxOn})
	plen := 9 + mlen

	return f.writeMany(regFIFOs, buf[:plen])
}

func (f *FUSB302) sendHardReset() error {
	r, err := f.read(regControl3)
	if err != nil {
		return err
	}
	return f.write(regControl3, r|regControl3SendHardReset)
}

// GetMessage implements tcpm.Driver.
func (f *FUSB302) GetMessage() (pdmsg.Message, bool) {
	select {
	case m := <-f.msgs:
		return m, true
	default:
		return pdmsg.Message{}, false
	}
}

func (f *FUSB302) rx(m *pdmsg.Message) error {
	reg, err := f.read(regStatus1)
	if err != nil {
		return err
	}
	if reg&regStatus1RxEmpty != 0 {
		return tcpm.ErrRxEmpty
	}

	buf := make([]byte, pdmsg.MaxMessageBytes+4) // +4 for trailing CRC
	if err = f.readMany(regFIFOs, buf[:3]); err != nil {
		return err
	}
	m.Header = uint16(buf[2])<<8 | uint16(buf[1])
	l := m.DataObjectCount()

	if l > 0 {
		if err = f.readMany(regFIFOs, buf[:l*4+4]); err != nil {
			return err
		}
		for i := uint8(0); i < l; i++ {
			s := i * 4
			m.Data[i] = uint32(buf[s]) | uint32(buf[s+1])<<8 | uint32(buf[s+2])<<16 | uint32(buf[s+3])<<24
		}
	} else if err = f.readMany(regFIFOs, buf[:4]); err != nil { // discard CRC
		return err
	}
	return nil
}

// ErrInvalidCCState is returned when the toggle result reports neither CC1
// nor CC2 as the sink line.
var ErrInvalidCCState = errors.New("fusb302: invalid cc state")

var errNotSupported = errors.New("fusb302: not supported in sink-only build")

// Alert implements tcpm.Driver: it drains pending interrupts and returns
// the events they represent.
func (f *FUSB302) Alert() (e tcpm.Event, err error) {
	regs := make([]byte, 7)
	if err = f.readMany(regStatus0A, regs); err != nil {
		return
	}
	status0A, status1A, intA, _, status0, _, intT := regs[0], regs[1], regs[2], regs[3], regs[4], regs[5], regs[6]
	intA |= f.intA
	f.intA = 0

	if intA&regInterruptASoftReset != 0 && status0A&regStatus0ARxSoftReset != 0 {
		e.Add(tcpm.EventSoftResetRecv)
	}
	if intA&regInterruptAHardReset != 0 && status0A&regStatus0ARxHardReset != 0 {
		e.Add(tcpm.EventHardResetRecv)
	}
	if intA&regInterruptARetryFail != 0 {
		e.Add(tcpm.EventTxFailed)
	}
	if intA&regInterruptATxSuccess != 0 {
		e.Add(tcpm.EventTxSuccess)
	}

	if intA&regInterruptATogDone != 0 {
		switch status0 & 0b11 {
		case 1:
			e.Add(tcpm.EventPower0A5)
		case 2:
			e.Add(tcpm.EventPower1A5)
		case 3:
			e.Add(tcpm.EventPower3A0)
		}
		if err = f.write(regControl2, 0); err != nil { // turn off auto-detect
			return
		}
		var pol tcpm.Polarity
		switch (status1A >> regStatus1ATogSSPos) & regStatus1ATogSSMask {
		case regStatus1ATogSSSnk1:
			pol = tcpm.PolarityCC1
		case regStatus1ATogSSSnk2:
			pol = tcpm.PolarityCC2
		default:
			return e, ErrInvalidCCState
		}
		if err = f.SetPolarity(pol); err != nil {
			return
		}
	}

	if intT&regInterruptVBusOK != 0 {
		if status0&regStatus0VBusOK == 0 {
			e.Add(tcpm.EventVBUSRemoved)
		} else {
			e.Add(tcpm.EventVBUSAttached)
		}
	}

	if intT&regInterruptCRCChk != 0 {
		for {
			var msg pdmsg.Message
			if err = f.rx(&msg); err != nil {
				if errors.Is(err, tcpm.ErrRxEmpty) {
					err = nil
					break
				}
				return
			}
			if !msg.IsData() && msg.Type() == pdmsg.TypeGoodCRC {
				continue
			}
			select {
			case f.msgs <- msg:
			default:
			}
		}
		e.Add(tcpm.EventRx)
	}

	return
}

const (
	regSwitches0        = 0x02
	regSwitches0MeasCC2 = 1 << 3
	regSwitches0MeasCC1 = 1 << 2
	regSwitches0CC2PdEn = 1 << 1
	regSwitches0CC1PdEn = 1 << 0

	regSwitches1         = 0x03
	regSwitches1SpecRev1 = 1 << 6
	regSwitches1AutoGCRC = 1 << 2
	regSwitches1TxCC2En  = 1 << 1
	regSwitches1TxCC1En  = 1 << 0

	regControl0 = 0x06
	regControl1 = 0x07

	regControl1BISTMode = 1 << 7

	regControl2 = 0x08

	regControl3              = 0x09
	regControl3SendHardReset = 1 << 6

	regPower       = 0x0B
	regPowerPwrAll = 0xF

	regReset        = 0x0C
	regResetSWReset = 1 << 0

	regStatus0A            = 0x3C
	regStatus0ARxSoftReset = 1 << 1
	regStatus0ARxHardReset = 1 << 0

	regStatus1A = 0x3D

	regStatus1ATogSSSnk1 = 0b101
	regStatus1ATogSSSnk2 = 0b110
	regStatus1ATogSSPos  = 3
	regStatus1ATogSSMask = 0x7

	regInterruptA          = 0x3E
	regInterruptATogDone   = 1 << 6
	regInterruptARetryFail = 1 << 4
	regInterruptAHardSent  = 1 << 3
	regInterruptATxSuccess = 1 << 2
	regInterruptASoftReset = 1 << 1
	regInterruptAHardReset = 1 << 0

	regStatus0       = 0x40
	regStatus0VBusOK = 1 << 7

	regStatus1        = 0x41
	regStatus1RxEmpty = 1 << 5

	regFIFOs = 0x43

	regInterruptVBusOK = 1 << 7 // within interrupt (0x42)
	regInterruptCRCChk = 1 << 4 // within interrupt (0x42)

	fifoTokenTxOn    = 0xA1
	fifoTokenSync1   = 0x12
	fifoTokenSync2   = 0x13
	fifoTokenSync3   = 0x1B
	fifoTokenPackSym = 0x80
	fifoTokenJamCRC  = 0xFF
	fifoTokenEOP     = 0x14
	fifoTokenTxOff   = 0xFE
)

var _ = regInterruptAHardSent // not read by this driver
