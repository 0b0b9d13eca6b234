//go:build !linux

package connectivity

func setInterfaceUp(index int, _ bool) error {
	if _, err := interfaceName(index); err != nil {
		return err
	}
	return ErrUnsupported
}
