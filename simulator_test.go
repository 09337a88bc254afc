package modbus

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
)

const SIMULATOR_SPACE = 1 << 16

// simulator is an in-process Modbus TCP device for tests.
type simulator struct {
	t  *testing.T
	ln net.Listener

	mu       sync.Mutex
	holding  []uint16
	input    []uint16
	coils    []bool
	discrete []bool
	// silent swallows requests without answering.
	silent bool
	// override, when set, replaces the built-in handler. Returning nil sends
	// nothing.
	override func(req []byte) [][]byte
	conns    map[net.Conn]struct{}
	accepts  int
	requests int

	wg sync.WaitGroup
}

func newSimulator(t *testing.T) *simulator {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &simulator{
		t:        t,
		ln:       ln,
		holding:  make([]uint16, SIMULATOR_SPACE),
		input:    make([]uint16, SIMULATOR_SPACE),
		coils:    make([]bool, SIMULATOR_SPACE),
		discrete: make([]bool, SIMULATOR_SPACE),
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.close)
	return s
}

func (s *simulator) endpoint(unitID byte) Endpoint {
	addr := s.ln.Addr().(*net.TCPAddr)
	return NewEndpoint("127.0.0.1", addr.Port, unitID)
}

func (s *simulator) close() {
	_ = s.ln.Close()
	s.dropConnections()
	s.wg.Wait()
}

// dropConnections closes every accepted connection, as a device reboot would.
func (s *simulator) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *simulator) setRegister(table RegisterType, address int, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if table == RegisterInput {
		s.input[address] = value
		return
	}
	s.holding[address] = value
}

func (s *simulator) setBit(table RegisterType, address int, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if table == RegisterDiscrete {
		s.discrete[address] = value
		return
	}
	s.coils[address] = value
}

func (s *simulator) setSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

func (s *simulator) setOverride(fn func(req []byte) [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = fn
}

func (s *simulator) stats() (accepts, requests int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepts, s.requests
}

func (s *simulator) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.accepts++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *simulator) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	var buf []byte
	chunk := make([]byte, READ_BUFFER_SIZE)
	for {
		n, err := conn.Read(chunk)
		if err != nil {
			return
		}
		buf = append(buf, chunk[:n]...)
		for {
			frame, rest, ferr := ExtractFrame(buf)
			if ferr != nil {
				return
			}
			if frame == nil {
				break
			}
			buf = rest
			for _, resp := range s.respond(append([]byte(nil), frame...)) {
				if _, err := conn.Write(resp); err != nil {
					return
				}
			}
		}
	}
}

func (s *simulator) respond(req []byte) [][]byte {
	s.mu.Lock()
	s.requests++
	silent, override := s.silent, s.override
	s.mu.Unlock()

	if silent {
		return nil
	}
	if override != nil {
		return override(req)
	}
	return [][]byte{s.handle(req)}
}

func (s *simulator) handle(req []byte) []byte {
	h := DecodeHeader(req)
	fc := req[FUNCTION_CODE_INDEX]
	data := req[PDU_DATA_INDEX:]

	s.mu.Lock()
	defer s.mu.Unlock()

	switch fc {
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		address := binary.BigEndian.Uint16(data)
		count := binary.BigEndian.Uint16(data[2:])
		if int(address)+int(count) > SIMULATOR_SPACE {
			return exceptionFrame(h, fc, ExceptionCodeIllegalDataAddress)
		}
		table := s.holding
		if fc == FuncCodeReadInputRegisters {
			table = s.input
		}
		return registersFrame(h, fc, table[address:address+count])

	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		address := binary.BigEndian.Uint16(data)
		count := binary.BigEndian.Uint16(data[2:])
		if int(address)+int(count) > SIMULATOR_SPACE {
			return exceptionFrame(h, fc, ExceptionCodeIllegalDataAddress)
		}
		table := s.coils
		if fc == FuncCodeReadDiscreteInputs {
			table = s.discrete
		}
		return bitsFrame(h, fc, table[address:address+count])

	case FuncCodeWriteSingleRegister:
		address := binary.BigEndian.Uint16(data)
		s.holding[address] = binary.BigEndian.Uint16(data[2:])
		return responseFrame(h, fc, data[:4])

	case FuncCodeWriteMultipleRegisters:
		address := binary.BigEndian.Uint16(data)
		count := binary.BigEndian.Uint16(data[2:])
		for i := 0; i < int(count); i++ {
			s.holding[int(address)+i] = binary.BigEndian.Uint16(data[5+2*i:])
		}
		return responseFrame(h, fc, data[:4])
	}
	return exceptionFrame(h, fc, ExceptionCodeIllegalFunction)
}

// responseFrame builds a response with the request's transaction and unit id.
func responseFrame(req Header, fc byte, payload []byte) []byte {
	frame := make([]byte, MBAP_HEADER_SIZE+1+len(payload))
	encodeHeader(newHeader(req.TransactionID, req.UnitID, 1+len(payload)), frame)
	frame[FUNCTION_CODE_INDEX] = fc
	copy(frame[PDU_DATA_INDEX:], payload)
	return frame
}

func registersFrame(req Header, fc byte, words []uint16) []byte {
	payload := make([]byte, 1+2*len(words))
	payload[0] = byte(2 * len(words))
	for i, w := range words {
		binary.BigEndian.PutUint16(payload[1+2*i:], w)
	}
	return responseFrame(req, fc, payload)
}

func bitsFrame(req Header, fc byte, bits []bool) []byte {
	payload := make([]byte, 1+(len(bits)+7)/8)
	payload[0] = byte(len(payload) - 1)
	for i, b := range bits {
		if b {
			payload[1+i/8] |= 1 << uint(i%8)
		}
	}
	return responseFrame(req, fc, payload)
}

func exceptionFrame(req Header, fc, code byte) []byte {
	return responseFrame(req, fc|exceptionBit, []byte{code})
}
