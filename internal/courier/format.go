package courier

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/pedidos/internal/orders"
)

// maxListed caps how many active orders the lista reply shows.
const maxListed = 10

// maxHistoryShown caps how many history entries the info reply shows.
const maxHistoryShown = 5

// statusEmoji maps each order status to its display emoji.
var statusEmoji = map[string]string{
	orders.StatusPendiente:  "⏳",
	orders.StatusConfirmado: "✅",
	orders.StatusProceso:    "🔄",
	orders.StatusDiseno:     "🎨",
	orders.StatusProduccion: "🏭",
	orders.StatusControl:    "🔍",
	orders.StatusListo:      "📦",
	orders.StatusEntregado:  "🎁",
	orders.StatusCancelado:  "❌",
	orders.StatusPausado:    "⏸️",
}

// emojiFor returns the emoji for a status, or a question mark for unknowns.
func emojiFor(status string) string {
	if e, ok := statusEmoji[status]; ok {
		return e
	}
	return "❓"
}

// formatDate renders a timestamp the way the group expects to read it.
func formatDate(t time.Time) string {
	return t.Format("02/01/2006 15:04")
}

// formatUptime renders a duration as "Xh Ym".
func formatUptime(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%dh %dm", total/3600, (total%3600)/60)
}

// truncate returns s cut to maxLen runes with "..." appended if needed.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// formatOrderCreated builds the confirmation reply for a new order.
func formatOrderCreated(o *orders.Order) string {
	var b strings.Builder
	b.WriteString("✅ *PEDIDO CREADO EXITOSAMENTE*\n\n")
	fmt.Fprintf(&b, "🆔 *ID:* #%s\n", o.ID)
	fmt.Fprintf(&b, "👤 *Cliente:* %s\n", o.CustomerName)
	fmt.Fprintf(&b, "📝 *Descripción:* %s\n", o.Description)
	fmt.Fprintf(&b, "📊 *Estado:* %s\n", strings.ToUpper(o.Status))
	fmt.Fprintf(&b, "⏰ *Fecha:* %s\n\n", formatDate(o.CreatedAt))
	b.WriteString("💡 *Próximos pasos:*\n")
	b.WriteString("• Tu pedido será revisado por nuestro equipo\n")
	b.WriteString("• Recibirás actualizaciones del estado\n")
	fmt.Fprintf(&b, "• Usa `/info %s` para ver detalles", o.ID)
	return b.String()
}

// formatActiveOrders builds the lista reply. The store hands over the full
// active set; display truncates to maxListed with a "showing X of Y" notice.
func formatActiveOrders(active []*orders.Order) string {
	if len(active) == 0 {
		return "📋 *No hay pedidos activos*\n\n💡 Usa `/nuevo [descripción]` para crear un pedido"
	}

	var b strings.Builder
	b.WriteString("📋 *PEDIDOS ACTIVOS*\n\n")
	shown := active
	if len(shown) > maxListed {
		shown = shown[:maxListed]
	}
	for _, o := range shown {
		fmt.Fprintf(&b, "%s *#%s* - %s\n", emojiFor(o.Status), o.ID, o.CustomerName)
		fmt.Fprintf(&b, "   📊 %s\n", strings.ToUpper(o.Status))
		fmt.Fprintf(&b, "   📝 %s\n", truncate(o.Description, 40))
		fmt.Fprintf(&b, "   ⏰ %s\n\n", formatDate(o.UpdatedAt))
	}
	if len(active) > maxListed {
		fmt.Fprintf(&b, "📊 *Mostrando %d de %d pedidos activos*\n", maxListed, len(active))
	}
	b.WriteString("💡 Usa `/info [ID]` para ver detalles completos")
	return b.String()
}

// formatStatusChanged builds the group confirmation for a status change.
func formatStatusChanged(o *orders.Order, prev, actor string) string {
	var b strings.Builder
	b.WriteString("✅ *ESTADO ACTUALIZADO*\n\n")
	fmt.Fprintf(&b, "🆔 *Pedido:* #%s\n", o.ID)
	fmt.Fprintf(&b, "👤 *Cliente:* %s\n", o.CustomerName)
	fmt.Fprintf(&b, "📊 *Estado anterior:* %s\n", strings.ToUpper(prev))
	fmt.Fprintf(&b, "📊 *Estado nuevo:* %s\n", strings.ToUpper(o.Status))
	fmt.Fprintf(&b, "👮 *Actualizado por:* %s\n", actor)
	fmt.Fprintf(&b, "⏰ *Fecha:* %s\n\n", formatDate(o.UpdatedAt))
	b.WriteString("💡 El cliente será notificado automáticamente")
	return b.String()
}

// formatCustomerNotice builds the direct notification sent to the customer.
func formatCustomerNotice(o *orders.Order) string {
	var b strings.Builder
	b.WriteString("🔔 *ACTUALIZACIÓN DE PEDIDO*\n\n")
	fmt.Fprintf(&b, "🆔 *ID:* #%s\n", o.ID)
	fmt.Fprintf(&b, "📊 *Nuevo estado:* %s\n", strings.ToUpper(o.Status))
	fmt.Fprintf(&b, "⏰ %s\n\n", formatDate(o.UpdatedAt))
	b.WriteString("💬 Para más información, contacta el grupo de pedidos")
	return b.String()
}

// formatOrderInfo builds the full-detail info reply, history newest first.
func formatOrderInfo(o *orders.Order) string {
	var b strings.Builder
	b.WriteString("📋 *INFORMACIÓN COMPLETA DEL PEDIDO*\n\n")
	fmt.Fprintf(&b, "🆔 *ID:* #%s\n", o.ID)
	fmt.Fprintf(&b, "👤 *Cliente:* %s\n", o.CustomerName)
	fmt.Fprintf(&b, "📱 *Contacto:* %s\n", o.CustomerContact)
	fmt.Fprintf(&b, "📊 *Estado actual:* %s\n", strings.ToUpper(o.Status))
	fmt.Fprintf(&b, "📝 *Descripción:* %s\n", o.Description)
	fmt.Fprintf(&b, "⏰ *Creado:* %s\n", formatDate(o.CreatedAt))
	fmt.Fprintf(&b, "🔄 *Última actualización:* %s\n\n", formatDate(o.UpdatedAt))

	b.WriteString("📊 *HISTORIAL DE ESTADOS:*\n")
	shown := 0
	for i := len(o.History) - 1; i >= 0 && shown < maxHistoryShown; i-- {
		h := o.History[i]
		fmt.Fprintf(&b, "%s %s - %s\n", emojiFor(h.Status), strings.ToUpper(h.Status), formatDate(h.At))
		if h.Actor != "" {
			fmt.Fprintf(&b, "   👤 %s\n", h.Actor)
		}
		shown++
	}
	return b.String()
}

// formatInvalidStatus lists the valid statuses after a rejected estado.
func formatInvalidStatus() string {
	return fmt.Sprintf("❌ *Estado inválido*\n\n📊 Estados disponibles:\n%s",
		strings.Join(orders.AllStatuses, ", "))
}

// formatNotFound builds the unknown-ID reply.
func formatNotFound(id string) string {
	return fmt.Sprintf("❌ *Pedido no encontrado*\n\nID: %s\n💡 Usa `/lista` para ver IDs válidos", id)
}

// formatHelp builds the command reference.
func formatHelp(workStart, workEnd int) string {
	var b strings.Builder
	b.WriteString("🤖 *SISTEMA DE PEDIDOS*\n\n")
	b.WriteString("📝 *COMANDOS PARA CLIENTES:*\n")
	b.WriteString("• `/nuevo [descripción]` - Crear nuevo pedido\n")
	b.WriteString("• `/info [ID]` - Ver detalles de pedido\n")
	b.WriteString("• `/lista` - Ver pedidos activos\n\n")
	b.WriteString("👮 *COMANDOS PARA ADMINISTRADORES:*\n")
	b.WriteString("• `/estado [ID] [nuevo_estado]` - Cambiar estado\n")
	b.WriteString("• `/stats` - Ver estadísticas completas\n\n")
	b.WriteString("📊 *ESTADOS DISPONIBLES:*\n")
	fmt.Fprintf(&b, "• %s\n\n", strings.Join(orders.AllStatuses, ", "))
	b.WriteString("💡 *EJEMPLOS:*\n")
	b.WriteString("• `/nuevo Camiseta talla M color azul`\n")
	b.WriteString("• `/estado 001 confirmado`\n")
	b.WriteString("• `/info 001`\n\n")
	fmt.Fprintf(&b, "🕐 *Horario:* %d:00 - %d:00", workStart, workEnd)
	return b.String()
}
