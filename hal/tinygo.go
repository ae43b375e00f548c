//go:build tinygo && baremetal && (rp2040 || rp2350)

package hal

import (
	"machine"
)

// Board pinout. UART0 carries the log at 115200 8N1.
const (
	pinUARTTX = machine.GP0
	pinUARTRX = machine.GP1
	pinBuzzer = machine.GP2

	pinEPDSCK  = machine.GP10
	pinEPDMOSI = machine.GP11
	pinEPDCS   = machine.GP13
	pinEPDDC   = machine.GP14
	pinEPDRST  = machine.GP15
	pinEPDBUSY = machine.GP16

	pinLEDR = machine.GP18
	pinLEDG = machine.GP19
	pinLEDB = machine.GP20

	epdSPIFrequency = 4_000_000
)

type tinyGoHAL struct {
	logger  *uartLogger
	led     *pwmRGBLED
	buzzer  *pwmBuzzer
	panel   PanelPort
	flash   Flash
	clock   *tinyGoClock
	net     Network
	updater Updater
}

// New returns the board HAL.
func New() HAL {
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       pinUARTTX,
		RX:       pinUARTRX,
	})

	machine.SPI1.Configure(machine.SPIConfig{
		SCK:       pinEPDSCK,
		SDO:       pinEPDMOSI,
		Frequency: epdSPIFrequency,
		Mode:      0,
	})

	h := &tinyGoHAL{
		logger: &uartLogger{uart: uart},
		led:    newPWMRGBLED(pinLEDR, pinLEDG, pinLEDB),
		buzzer: newPWMBuzzer(pinBuzzer),
		panel: PanelPort{
			Bus:  machine.SPI1,
			CS:   outPin(pinEPDCS, true),
			DC:   outPin(pinEPDDC, true),
			RST:  outPin(pinEPDRST, true),
			Busy: inPin(pinEPDBUSY),
		},
		flash: newRP2Flash(),
		clock: newTinyGoClock(),
		net:   nullNetwork{},
	}
	if layout, err := NewLayout(h.flash); err == nil {
		h.updater = NewSlotUpdater(layout)
	} else {
		h.updater = nullUpdater{}
	}
	return h
}

func (h *tinyGoHAL) Logger() Logger   { return h.logger }
func (h *tinyGoHAL) LED() RGBLED      { return h.led }
func (h *tinyGoHAL) Buzzer() Buzzer   { return h.buzzer }
func (h *tinyGoHAL) Panel() PanelPort { return h.panel }
func (h *tinyGoHAL) Flash() Flash     { return h.flash }
func (h *tinyGoHAL) Clock() Clock     { return h.clock }
func (h *tinyGoHAL) Network() Network { return h.net }
func (h *tinyGoHAL) Updater() Updater { return h.updater }
func (h *tinyGoHAL) System() System   { return tinyGoSystem{} }
